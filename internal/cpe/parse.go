package cpe

import (
	"fmt"
	"strings"

	"QianKunJing/internal/model"
)

// MinSegments vulnerable_configuration 中CPE字符串至少需要的段数
const MinSegments = 8

// SegmentCountError CPE字符串段数不足
type SegmentCountError struct {
	Value string
	Got   int
}

func (e *SegmentCountError) Error() string {
	return fmt.Sprintf("CPE字符串段数错误: %q 只有 %d 段, 至少需要 %d 段", e.Value, e.Got, MinSegments)
}

// ParseVulnerableConfig 按冒号拆分CPE字符串。
// 前8段依次为 cpe_name, cpe_version, part, vendor, product, version, stability, platform，
// 多余的段被忽略。
func ParseVulnerableConfig(s string) (model.VulnerableConfig, error) {
	parts := strings.Split(s, ":")
	if len(parts) < MinSegments {
		return model.VulnerableConfig{}, &SegmentCountError{Value: s, Got: len(parts)}
	}

	return model.VulnerableConfig{
		CpeName:    parts[0],
		CpeVersion: parts[1],
		Part:       parts[2],
		Vendor:     parts[3],
		Product:    parts[4],
		Version:    parts[5],
		Stability:  parts[6],
		Platform:   parts[7],
	}, nil
}
