// Package report 将资产清单与CVE-Search查询结果组合成报告
package report

import (
	"context"
	"fmt"
	"html"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"QianKunJing/internal/config"
	"QianKunJing/internal/cpe"
	"QianKunJing/internal/cvesearch"
	"QianKunJing/internal/model"
	"QianKunJing/internal/utils"
)

// DefaultRecentLimit 最新CVE卡片的条数
const DefaultRecentLimit = 10

// ErrNoInventory 未配置资产数据库
var ErrNoInventory = xerrors.New("inventory database not configured")

// CveSource 报告所需的CVE-Search接口
type CveSource interface {
	GetCveForCpe(ctx context.Context, cpeString string, limit int) (model.RawBatch, error)
	GetCveByVendorAndProduct(ctx context.Context, vendor, product string) (model.RawBatch, error)
	GetRecentCve(ctx context.Context, limit int) (model.RawBatch, error)
}

// Inventory 资产清单来源
type Inventory interface {
	ListSoftwareVersions(ctx context.Context) ([]model.Software, error)
	Software(ctx context.Context, id int64) (model.Software, error)
	SoftwareVersion(ctx context.Context, id int64) (model.Software, error)
}

type Service struct {
	source      CveSource
	inventory   Inventory
	normalizer  *cvesearch.Normalizer
	concurrency int
	extra       []model.Software
	logger      *utils.Logger
}

// NewService inventory可以为nil，此时只有Extra和ForTriples可用
func NewService(source CveSource, inventory Inventory, cfg config.Config) *Service {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = config.DefaultConcurrency
	}

	return &Service{
		source:      source,
		inventory:   inventory,
		normalizer:  cvesearch.NewNormalizer(cvesearch.NormalizeOptions{SkipMalformedEntries: cfg.SkipMalformedEntries}),
		concurrency: concurrency,
		extra:       cfg.Extra,
		logger:      utils.NewLogger("report"),
	}
}

// ForInventory 查询全部资产（含配置中的额外软件）的CVE
func (s *Service) ForInventory(ctx context.Context) (*model.Report, error) {
	var items []model.Software
	if s.inventory != nil {
		list, err := s.inventory.ListSoftwareVersions(ctx)
		if err != nil {
			return nil, xerrors.Errorf("读取资产清单失败: %w", err)
		}
		items = append(items, list...)
	}
	items = uniqueProducts(append(items, s.extra...))

	s.logger.Info("查询 %d 个软件的CVE", len(items))

	records, err := s.fanOut(ctx, items, func(ctx context.Context, sw model.Software) ([]model.CveRecord, error) {
		batch, err := s.source.GetCveByVendorAndProduct(ctx, sw.Vendor, sw.Product)
		if err != nil {
			return nil, err
		}
		return s.normalizer.Format(batch, sw.Vendor, sw.Product), nil
	})
	if err != nil {
		return nil, err
	}

	return newReport("inventory", records), nil
}

// ForSoftware 按软件查询，CPE不带版本
func (s *Service) ForSoftware(ctx context.Context, id int64) (*model.Report, error) {
	if s.inventory == nil {
		return nil, ErrNoInventory
	}

	sw, err := s.inventory.Software(ctx, id)
	if err != nil {
		return nil, err
	}

	records, err := s.lookupCpe(ctx, sw, false)
	if err != nil {
		return nil, err
	}
	return newReport(fmt.Sprintf("software:%d", id), cvesearch.SortByPublished(records)), nil
}

// ForSoftwareVersion 按软件版本查询
func (s *Service) ForSoftwareVersion(ctx context.Context, id int64) (*model.Report, error) {
	if s.inventory == nil {
		return nil, ErrNoInventory
	}

	sw, err := s.inventory.SoftwareVersion(ctx, id)
	if err != nil {
		return nil, err
	}

	records, err := s.lookupCpe(ctx, sw, true)
	if err != nil {
		return nil, err
	}
	return newReport(fmt.Sprintf("version:%d", id), cvesearch.SortByPublished(records)), nil
}

// ForTriples 对调用方提供的 (vendor, product, version) 逐个按CPE查询
func (s *Service) ForTriples(ctx context.Context, triples []model.Software) (*model.Report, error) {
	records, err := s.fanOut(ctx, triples, func(ctx context.Context, sw model.Software) ([]model.CveRecord, error) {
		return s.lookupCpe(ctx, sw, sw.Version != "")
	})
	if err != nil {
		return nil, err
	}
	return newReport("triples", records), nil
}

// Recent 最新CVE卡片数据，n<=0时取DefaultRecentLimit
func (s *Service) Recent(ctx context.Context, n int) ([]model.RecentCve, error) {
	if n <= 0 {
		n = DefaultRecentLimit
	}

	batch, err := s.source.GetRecentCve(ctx, n)
	if err != nil {
		return nil, err
	}

	feed := make([]model.RecentCve, 0, len(batch))
	for _, item := range batch {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		feed = append(feed, model.RecentCve{
			ID:        stringOf(entry["id"]),
			Summary:   html.EscapeString(stringOf(entry["summary"])),
			Published: stringOf(entry["Published"]),
		})
	}
	return feed, nil
}

// lookupCpe 返回未排序的归一化结果，由调用方排序一次。没有厂商的软件直接返回空结果
func (s *Service) lookupCpe(ctx context.Context, sw model.Software, withVersion bool) ([]model.CveRecord, error) {
	if sw.Vendor == "" {
		s.logger.Debug("跳过无厂商的软件: %s", sw.Product)
		return []model.CveRecord{}, nil
	}

	var fields []string
	if withVersion {
		fields = append(fields, sw.Version)
	}
	cpeString := cpe.FormCPE23String(cpe.PartApplication,
		cpe.FormatVendorName(sw.Vendor), cpe.FormatProductName(sw.Product), fields...)

	batch, err := s.source.GetCveForCpe(ctx, cpeString, cvesearch.DefaultLimit)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", cpeString, err)
	}
	return s.normalizer.Format(batch, sw.Vendor, sw.Product), nil
}

// fanOut 并发执行lookup，按输入顺序合并结果后按发布时间排序
func (s *Service) fanOut(ctx context.Context, items []model.Software,
	lookup func(context.Context, model.Software) ([]model.CveRecord, error)) ([]model.CveRecord, error) {

	results := make([][]model.CveRecord, len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, sw := range items {
		i, sw := i, sw
		if sw.Vendor == "" {
			s.logger.Debug("跳过无厂商的软件: %s %s", sw.Product, sw.Version)
			continue
		}
		g.Go(func() error {
			records, err := lookup(ctx, sw)
			if err != nil {
				return err
			}
			results[i] = records
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := []model.CveRecord{}
	for _, records := range results {
		merged = append(merged, records...)
	}
	return cvesearch.SortByPublished(merged), nil
}

// uniqueProducts 按格式化后的 (vendor, product) 去重，search接口不区分版本
func uniqueProducts(items []model.Software) []model.Software {
	seen := make(map[string]bool, len(items))
	out := make([]model.Software, 0, len(items))
	for _, sw := range items {
		key := cpe.FormatVendorName(sw.Vendor) + "/" + cpe.FormatProductName(sw.Product)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, sw)
	}
	return out
}

func newReport(scope string, records []model.CveRecord) *model.Report {
	return &model.Report{
		Scope:       scope,
		GeneratedAt: time.Now().UTC(),
		Records:     records,
	}
}

func stringOf(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
