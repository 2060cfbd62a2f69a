// Package server 以HTTP接口提供CVE报告
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/xerrors"

	"QianKunJing/internal/export"
	"QianKunJing/internal/inventory"
	"QianKunJing/internal/model"
	"QianKunJing/internal/report"
	"QianKunJing/internal/utils"
)

// Reporter report.Service提供的查询
type Reporter interface {
	ForInventory(ctx context.Context) (*model.Report, error)
	ForSoftware(ctx context.Context, id int64) (*model.Report, error)
	ForSoftwareVersion(ctx context.Context, id int64) (*model.Report, error)
	ForTriples(ctx context.Context, triples []model.Software) (*model.Report, error)
	Recent(ctx context.Context, n int) ([]model.RecentCve, error)
}

type Handler struct {
	Reporter Reporter
	pdf      *export.PDFExporter
	logger   *utils.Logger
}

func NewHandler(reporter Reporter) *Handler {
	return &Handler{
		Reporter: reporter,
		pdf:      export.NewPDFExporter(),
		logger:   utils.NewLogger("server"),
	}
}

// NewRouter 注册所有路由
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.requestID)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/report", h.HandleInventory).Methods(http.MethodGet)
	api.HandleFunc("/software/{id:[0-9]+}", h.HandleSoftware).Methods(http.MethodGet)
	api.HandleFunc("/version/{id:[0-9]+}", h.HandleSoftwareVersion).Methods(http.MethodGet)
	api.HandleFunc("/cpe/{vendor}/{product}", h.HandleTriple).Methods(http.MethodGet)
	api.HandleFunc("/cpe/{vendor}/{product}/{version}", h.HandleTriple).Methods(http.MethodGet)
	api.HandleFunc("/recent", h.HandleRecent).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// requestID 为每个请求分配X-Request-ID
func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		h.logger.WithField("request_id", id).Debug("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) HandleInventory(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Reporter.ForInventory(r.Context())
	h.writeReport(w, r, rep, err)
}

func (h *Handler) HandleSoftware(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	rep, err := h.Reporter.ForSoftware(r.Context(), id)
	h.writeReport(w, r, rep, err)
}

func (h *Handler) HandleSoftwareVersion(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	rep, err := h.Reporter.ForSoftwareVersion(r.Context(), id)
	h.writeReport(w, r, rep, err)
}

func (h *Handler) HandleTriple(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	triple := model.Software{
		Vendor:  vars["vendor"],
		Product: vars["product"],
		Version: vars["version"],
	}
	rep, err := h.Reporter.ForTriples(r.Context(), []model.Software{triple})
	h.writeReport(w, r, rep, err)
}

func (h *Handler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	feed, err := h.Reporter.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("查询最新CVE失败: %v", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if feed == nil {
		feed = []model.RecentCve{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(feed)
}

// writeReport format=pdf时输出PDF，否则输出JSON
func (h *Handler) writeReport(w http.ResponseWriter, r *http.Request, rep *model.Report, err error) {
	if err != nil {
		h.logger.Error("生成报告失败: %v", err)
		switch {
		case xerrors.Is(err, inventory.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case xerrors.Is(err, report.ErrNoInventory):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
		return
	}

	if r.URL.Query().Get("format") == "pdf" {
		data, err := h.pdf.ExportReport(rep)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rep)
}
