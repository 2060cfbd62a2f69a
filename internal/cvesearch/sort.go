package cvesearch

import (
	"sort"
	"time"

	"QianKunJing/internal/model"
)

var publishedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parsePublished 解析失败时返回Unix纪元
func parsePublished(s string) time.Time {
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Unix(0, 0).UTC()
}

// SortByPublished 按发布时间稳定升序排序后整体反转，得到降序结果。
// 时间相同的记录保持原相对顺序的反序；无法解析的日期排在最后。
func SortByPublished(records []model.CveRecord) []model.CveRecord {
	sort.SliceStable(records, func(i, j int) bool {
		return parsePublished(records[i].DatePublished).Before(parsePublished(records[j].DatePublished))
	})

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records
}

// ColorFor CVSS分数对应的背景色
func ColorFor(score float64) string {
	switch {
	case score == 0:
		return "transparent"
	case score > 0 && score < 4:
		return "lightblue"
	case score >= 4 && score < 7:
		return "yellow"
	case score >= 7 && score < 9:
		return "orange"
	case score >= 9:
		return "red"
	}
	// 负分
	return "red"
}
