package model

// RawCveEntry CVE-Search返回的原始JSON对象，字段随接口变化
type RawCveEntry = map[string]interface{}

// RawBatch 列表类接口的原始返回，元素尚未确认是对象
type RawBatch = []interface{}

// CveRecord 归一化后的CVE记录
type CveRecord struct {
	ID                string             `json:"id"`
	DatePublished     string             `json:"date_published"`
	DateModified      string             `json:"date_modified"`
	Vendor            string             `json:"vendor"`
	Product           string             `json:"product"`
	Summary           string             `json:"summary"`
	CVSS              float64            `json:"cvss"`
	CVSSTime          string             `json:"cvss_time,omitempty"`
	CVSSVector        string             `json:"cvss_vector"`
	CWE               string             `json:"cwe"`
	Access            interface{}        `json:"access,omitempty"`
	Assigner          string             `json:"assigner"`
	Impact            interface{}        `json:"impact,omitempty"`
	References        []string           `json:"references"`
	VulnerableConfigs []VulnerableConfig `json:"vulnerable_configs"`
}

// VulnerableConfig 从vulnerable_configuration中的CPE字符串解码得到
type VulnerableConfig struct {
	CpeName    string `json:"cpe_name"`
	CpeVersion string `json:"cpe_version"`
	Part       string `json:"part"`
	Vendor     string `json:"vendor"`
	Product    string `json:"product"`
	Version    string `json:"version"`
	Stability  string `json:"stability"`
	Platform   string `json:"platform"`
}

// RecentCve 最新CVE卡片的一条数据
type RecentCve struct {
	ID        string `json:"id"`
	Summary   string `json:"summary"`
	Published string `json:"published"`
}
