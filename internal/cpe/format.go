// Package cpe 生成和解析CPE 2.3编码字符串
package cpe

import "strings"

// CPE part 取值
const (
	PartApplication     = "a"
	PartOperatingSystem = "o"
	PartHardware        = "h"
)

// Any CPE中的通配值
const Any = "*"

// FormatVendorName 厂商名转小写，空格替换为下划线。其他字符（例如句点）原样保留
func FormatVendorName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

// FormatProductName 与FormatVendorName规则相同
func FormatProductName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

// FormCPE23String 拼接CPE 2.3编码字符串。
// fields 依次为 version, update, edition, language，缺省为 "*"。
// vendor 和 product 不会被格式化，part 也不做校验。
func FormCPE23String(part, vendor, product string, fields ...string) string {
	rest := [4]string{Any, Any, Any, Any}
	copy(rest[:], fields)

	return "cpe:2.3:" + part + ":" + vendor + ":" + product + ":" + strings.Join(rest[:], ":")
}
