package cvesearch

import (
	"encoding/json"
	"html"
	"strconv"

	"QianKunJing/internal/cpe"
	"QianKunJing/internal/model"
	"QianKunJing/internal/utils"
)

// NormalizeOptions 归一化选项
type NormalizeOptions struct {
	// SkipMalformedEntries 为true时只跳过非对象条目；默认整批作废返回空列表
	SkipMalformedEntries bool
}

// Normalizer 将CVE-Search原始结果转换为CveRecord
type Normalizer struct {
	opts   NormalizeOptions
	logger *utils.Logger
}

func NewNormalizer(opts NormalizeOptions) *Normalizer {
	return &Normalizer{
		opts:   opts,
		logger: utils.NewLogger("normalizer"),
	}
}

// FormatCveResults 使用默认选项归一化
func FormatCveResults(batch model.RawBatch, vendor, product string) []model.CveRecord {
	return NewNormalizer(NormalizeOptions{}).Format(batch, vendor, product)
}

// Format 按输入顺序归一化一批结果。
// vendor/product 为空时，从第一个vulnerable_configuration中取值。
func (n *Normalizer) Format(batch model.RawBatch, vendor, product string) []model.CveRecord {
	formatted := make([]model.CveRecord, 0, len(batch))

	for i, item := range batch {
		entry, ok := item.(map[string]interface{})
		if !ok {
			if n.opts.SkipMalformedEntries {
				n.logger.Warn("跳过第 %d 条非对象结果: %T", i, item)
				continue
			}
			n.logger.Warn("第 %d 条结果不是对象(%T)，丢弃整批 %d 条结果", i, item, len(batch))
			return []model.CveRecord{}
		}

		formatted = append(formatted, n.formatEntry(entry, vendor, product))
	}

	return formatted
}

func (n *Normalizer) formatEntry(entry model.RawCveEntry, vendor, product string) model.CveRecord {
	record := model.CveRecord{
		ID:                stringField(entry, "id"),
		DatePublished:     stringField(entry, "Published", "published"),
		DateModified:      stringField(entry, "Modified", "modified", "last-modified"),
		Vendor:            vendor,
		Product:           product,
		Summary:           html.EscapeString(stringField(entry, "summary")),
		CVSS:              floatField(entry, "cvss"),
		CVSSTime:          stringField(entry, "cvss-time"),
		CVSSVector:        stringField(entry, "cvss-vector"),
		CWE:               stringField(entry, "cwe"),
		Access:            entry["access"],
		Assigner:          stringField(entry, "assigner"),
		Impact:            entry["impact"],
		References:        stringsField(entry, "references"),
		VulnerableConfigs: []model.VulnerableConfig{},
	}

	items, ok := entry["vulnerable_configuration"].([]interface{})
	if !ok {
		items, _ = entry["vulnerable_product"].([]interface{})
	}

	for _, item := range items {
		var raw string
		switch v := item.(type) {
		case string:
			raw = v
		case map[string]interface{}:
			raw, _ = v["id"].(string)
		}
		if raw == "" {
			n.logger.Warn("%s: 无法识别的vulnerable_configuration: %v", record.ID, item)
			continue
		}

		cfg, err := cpe.ParseVulnerableConfig(raw)
		if err != nil {
			n.logger.Warn("%s: %v", record.ID, err)
			continue
		}

		if record.Vendor == "" {
			record.Vendor = cfg.Vendor
		}
		if record.Product == "" {
			record.Product = cfg.Product
		}
		record.VulnerableConfigs = append(record.VulnerableConfigs, cfg)
	}

	return record
}

// stringField 取第一个存在的字段
func stringField(entry model.RawCveEntry, keys ...string) string {
	for _, key := range keys {
		switch v := entry[key].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

func floatField(entry model.RawCveEntry, key string) float64 {
	switch v := entry[key].(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func stringsField(entry model.RawCveEntry, key string) []string {
	list, ok := entry[key].([]interface{})
	if !ok {
		return []string{}
	}

	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
