package report

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"QianKunJing/internal/config"
	"QianKunJing/internal/cvesearch"
	"QianKunJing/internal/model"
)

type fakeSource struct {
	mu       sync.Mutex
	cpes     []string
	searches []string
	batches  map[string]model.RawBatch
	err      error
}

func (f *fakeSource) GetCveForCpe(_ context.Context, cpeString string, limit int) (model.RawBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cpes = append(f.cpes, cpeString)
	if f.err != nil {
		return nil, f.err
	}
	return f.batches[cpeString], nil
}

func (f *fakeSource) GetCveByVendorAndProduct(_ context.Context, vendor, product string) (model.RawBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := vendor + "/" + product
	f.searches = append(f.searches, key)
	if f.err != nil {
		return nil, f.err
	}
	return f.batches[key], nil
}

func (f *fakeSource) GetRecentCve(_ context.Context, limit int) (model.RawBatch, error) {
	batch := f.batches["last"]
	if len(batch) > limit {
		batch = batch[:limit]
	}
	return batch, f.err
}

type fakeInventory struct {
	versions []model.Software
}

func (f *fakeInventory) ListSoftwareVersions(context.Context) ([]model.Software, error) {
	return f.versions, nil
}

func (f *fakeInventory) Software(_ context.Context, id int64) (model.Software, error) {
	for _, sw := range f.versions {
		if sw.ID == id {
			return model.Software{ID: id, Vendor: sw.Vendor, Product: sw.Product}, nil
		}
	}
	return model.Software{}, xerrors.New("not found")
}

func (f *fakeInventory) SoftwareVersion(_ context.Context, id int64) (model.Software, error) {
	for _, sw := range f.versions {
		if sw.ID == id {
			return sw, nil
		}
	}
	return model.Software{}, xerrors.New("not found")
}

func cve(id, published string) map[string]interface{} {
	return map[string]interface{}{"id": id, "Published": published, "summary": id + " <b>"}
}

func recordIDs(records []model.CveRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestForInventory(t *testing.T) {
	source := &fakeSource{batches: map[string]model.RawBatch{
		"GLPI-Project/GLPI": {cve("CVE-2020-0001", "2020-01-01T00:00:00"), cve("CVE-2021-0001", "2021-01-01T00:00:00")},
		"Nginx/nginx":       {cve("CVE-2019-0001", "2019-01-01T00:00:00")},
		"Acme/Widget":       {cve("CVE-2022-0001", "2022-01-01T00:00:00")},
	}}
	inventory := &fakeInventory{versions: []model.Software{
		{ID: 1, Vendor: "GLPI-Project", Product: "GLPI", Version: "9.4.0"},
		{ID: 2, Vendor: "", Product: "In-house Tool", Version: "0.1"},
		{ID: 3, Vendor: "Nginx", Product: "nginx", Version: "1.20.0"},
		{ID: 4, Vendor: "GLPI-Project", Product: "GLPI", Version: "9.5.3"},
	}}

	cfg := config.Default()
	cfg.Concurrency = 2
	cfg.Extra = []model.Software{{Vendor: "Acme", Product: "Widget"}}

	svc := NewService(source, inventory, cfg)
	rep, err := svc.ForInventory(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "inventory", rep.Scope)
	assert.Equal(t, []string{"CVE-2022-0001", "CVE-2021-0001", "CVE-2020-0001", "CVE-2019-0001"}, recordIDs(rep.Records))
	assert.Equal(t, "GLPI-Project", rep.Records[1].Vendor)

	sort.Strings(source.searches)
	assert.Equal(t, []string{"Acme/Widget", "GLPI-Project/GLPI", "Nginx/nginx"}, source.searches)
}

func TestForInventoryPropagatesError(t *testing.T) {
	source := &fakeSource{err: cvesearch.ErrServerFault}
	inventory := &fakeInventory{versions: []model.Software{{ID: 1, Vendor: "a", Product: "b"}}}

	_, err := NewService(source, inventory, config.Default()).ForInventory(context.Background())
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, cvesearch.ErrServerFault))
}

func TestForInventoryWithoutStore(t *testing.T) {
	svc := NewService(&fakeSource{}, nil, config.Default())

	rep, err := svc.ForInventory(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, rep.Records)
	assert.Empty(t, rep.Records)

	_, err = svc.ForSoftware(context.Background(), 1)
	assert.True(t, xerrors.Is(err, ErrNoInventory))
	_, err = svc.ForSoftwareVersion(context.Background(), 1)
	assert.True(t, xerrors.Is(err, ErrNoInventory))
}

func TestForSoftwareAndVersion(t *testing.T) {
	source := &fakeSource{batches: map[string]model.RawBatch{
		"cpe:2.3:a:glpi-project:glpi:*:*:*:*":     {cve("CVE-2020-0001", "2020-01-01"), cve("CVE-2021-0001", "2021-01-01")},
		"cpe:2.3:a:glpi-project:glpi:9.4.0:*:*:*": {cve("CVE-2020-0001", "2020-01-01")},
	}}
	inventory := &fakeInventory{versions: []model.Software{
		{ID: 7, Vendor: "GLPI-Project", Product: "GLPI", Version: "9.4.0"},
		{ID: 8, Vendor: "", Product: "Tool", Version: "1"},
	}}
	svc := NewService(source, inventory, config.Default())

	rep, err := svc.ForSoftware(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "software:7", rep.Scope)
	assert.Equal(t, []string{"CVE-2021-0001", "CVE-2020-0001"}, recordIDs(rep.Records))

	rep, err = svc.ForSoftwareVersion(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2020-0001"}, recordIDs(rep.Records))

	rep, err = svc.ForSoftwareVersion(context.Background(), 8)
	require.NoError(t, err)
	assert.Empty(t, rep.Records)

	assert.Equal(t, []string{
		"cpe:2.3:a:glpi-project:glpi:*:*:*:*",
		"cpe:2.3:a:glpi-project:glpi:9.4.0:*:*:*",
	}, source.cpes)

	_, err = svc.ForSoftware(context.Background(), 99)
	assert.Error(t, err)
}

func TestForTriples(t *testing.T) {
	source := &fakeSource{batches: map[string]model.RawBatch{
		"cpe:2.3:a:microsoft:asp.net_core:5.0:*:*:*": {cve("CVE-2021-0002", "2021-02-02")},
		"cpe:2.3:a:openssl:openssl:*:*:*:*":          {cve("CVE-2022-0003", "2022-03-03")},
	}}
	svc := NewService(source, nil, config.Default())

	rep, err := svc.ForTriples(context.Background(), []model.Software{
		{Vendor: "Microsoft", Product: "ASP.NET Core", Version: "5.0"},
		{Vendor: "OpenSSL", Product: "OpenSSL"},
		{Product: "orphan", Version: "1.0"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2022-0003", "CVE-2021-0002"}, recordIDs(rep.Records))
	assert.Len(t, source.cpes, 2)
}

func TestForTriplesTiedDates(t *testing.T) {
	batch := model.RawBatch{cve("CVE-2020-0001", "2020-01-01"), cve("CVE-2020-0002", "2020-01-01")}
	source := &fakeSource{batches: map[string]model.RawBatch{
		"cpe:2.3:a:glpi-project:glpi:9.4.0:*:*:*": batch,
	}}
	svc := NewService(source, nil, config.Default())

	rep, err := svc.ForTriples(context.Background(), []model.Software{
		{Vendor: "GLPI-Project", Product: "GLPI", Version: "9.4.0"},
	})
	require.NoError(t, err)

	// 与单次排序结果一致：同一时间的记录按输入反序
	single := cvesearch.SortByPublished(svc.normalizer.Format(batch, "GLPI-Project", "GLPI"))
	assert.Equal(t, recordIDs(single), recordIDs(rep.Records))
	assert.Equal(t, []string{"CVE-2020-0002", "CVE-2020-0001"}, recordIDs(rep.Records))
}

func TestRecent(t *testing.T) {
	batch := model.RawBatch{}
	for i := 0; i < 12; i++ {
		batch = append(batch, cve("CVE-2024-000"+string(rune('a'+i)), "2024-01-01T00:00:00"))
	}
	batch = append(model.RawBatch{"garbage"}, batch...)

	svc := NewService(&fakeSource{batches: map[string]model.RawBatch{"last": batch}}, nil, config.Default())

	feed, err := svc.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, feed, DefaultRecentLimit-1)
	assert.Equal(t, "CVE-2024-000a", feed[0].ID)
	assert.Equal(t, "CVE-2024-000a &lt;b&gt;", feed[0].Summary)
	assert.Equal(t, "2024-01-01T00:00:00", feed[0].Published)

	feed, err = svc.Recent(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, feed, 2)
}

func TestForInventoryAgainstServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/search/glpi-project/glpi"):
			w.Write([]byte(`{"results":[{"id":"CVE-2020-11060","Published":"2020-05-12T21:15:00","cvss":9.0,
				"vulnerable_configuration":["cpe:2.3:a:glpi-project:glpi:9.4.5:*:*:*:*:*:*:*"]}]}`))
		default:
			w.Write([]byte(`{"results":[]}`))
		}
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Service.BaseURL = server.URL
	inventory := &fakeInventory{versions: []model.Software{
		{ID: 1, Vendor: "GLPI-Project", Product: "GLPI", Version: "9.4.0"},
		{ID: 2, Vendor: "Nginx", Product: "nginx", Version: "1.20.0"},
	}}

	rep, err := NewService(cvesearch.New(cfg.Service), inventory, cfg).ForInventory(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Records, 1)
	assert.Equal(t, "CVE-2020-11060", rep.Records[0].ID)
	assert.Equal(t, 9.0, rep.Records[0].CVSS)
	assert.Equal(t, "GLPI-Project", rep.Records[0].Vendor)
	require.Len(t, rep.Records[0].VulnerableConfigs, 1)
	assert.Equal(t, "9.4.5", rep.Records[0].VulnerableConfigs[0].Version)
}
