package model

import "time"

// Software 资产清单中的一条软件记录 (vendor, product, version)
type Software struct {
	ID      int64  `json:"id" yaml:"id" toml:"id" db:"id"`
	Vendor  string `json:"vendor" yaml:"vendor" toml:"vendor" db:"vendor"`
	Product string `json:"product" yaml:"product" toml:"product" db:"product"`
	Version string `json:"version" yaml:"version" toml:"version" db:"version"`
}

// Report 一次查询的输出结果
type Report struct {
	Scope       string      `json:"scope"`
	GeneratedAt time.Time   `json:"generated_at"`
	Records     []CveRecord `json:"records"`
}

// OutputOptions 输出选项
type OutputOptions struct {
	Format     string // text, json, csv
	OutputFile string
}
