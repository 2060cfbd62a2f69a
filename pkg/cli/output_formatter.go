package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"QianKunJing/internal/cvesearch"
	"QianKunJing/internal/export"
	"QianKunJing/internal/model"
)

// NoData 没有结果或查询失败时的提示
const NoData = "no CVE data"

const summaryWidth = 100

// severityColors ColorFor返回值对应的终端颜色
var severityColors = map[string]*color.Color{
	"lightblue": color.New(color.FgHiCyan),
	"yellow":    color.New(color.FgYellow),
	"orange":    color.New(color.FgHiRed),
	"red":       color.New(color.FgRed, color.Bold),
}

type OutputFormatter struct {
	format string
	out    io.Writer
}

func NewOutputFormatter(format string) *OutputFormatter {
	return &OutputFormatter{format: strings.ToLower(format), out: os.Stdout}
}

// PrintReport 输出CVE记录列表，pdf格式一般配合outputFile使用
func (of *OutputFormatter) PrintReport(report *model.Report, outputFile string) error {
	var output string

	switch of.format {
	case "json":
		output = of.formatJSON(report)
	case "csv":
		output = of.formatCSV(report)
	case "pdf":
		data, err := export.NewPDFExporter().ExportReport(report)
		if err != nil {
			return err
		}
		output = string(data)
	default:
		output = of.formatText(report, outputFile == "")
	}

	return of.write(output, outputFile)
}

// PrintRecent 输出最新CVE卡片数据
func (of *OutputFormatter) PrintRecent(feed []model.RecentCve, outputFile string) error {
	var output string

	switch of.format {
	case "json":
		output = of.formatJSON(feed)
	case "csv":
		rows := [][]string{{"id", "published", "summary"}}
		for _, item := range feed {
			rows = append(rows, []string{item.ID, item.Published, item.Summary})
		}
		output = formatRows(rows)
	default:
		if len(feed) == 0 {
			output = NoData + "\n"
			break
		}
		var builder strings.Builder
		w := tabwriter.NewWriter(&builder, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tPublished\tSummary")
		for _, item := range feed {
			fmt.Fprintf(w, "%s\t%s\t%s\n", item.ID, item.Published, truncate(item.Summary))
		}
		w.Flush()
		output = builder.String()
	}

	return of.write(output, outputFile)
}

// PrintStrings 输出厂商或产品名列表
func (of *OutputFormatter) PrintStrings(list []string, outputFile string) error {
	var output string

	switch of.format {
	case "json":
		output = of.formatJSON(list)
	case "csv":
		rows := [][]string{{"name"}}
		for _, s := range list {
			rows = append(rows, []string{s})
		}
		output = formatRows(rows)
	default:
		if len(list) == 0 {
			output = NoData + "\n"
		} else {
			output = strings.Join(list, "\n") + "\n"
		}
	}

	return of.write(output, outputFile)
}

// PrintRaw CWE、CAPEC等没有固定结构的结果统一按JSON输出
func (of *OutputFormatter) PrintRaw(v interface{}, outputFile string) error {
	if isEmpty(v) {
		return of.write(NoData+"\n", outputFile)
	}
	return of.write(of.formatJSON(v), outputFile)
}

func (of *OutputFormatter) write(output, outputFile string) error {
	if outputFile != "" {
		return os.WriteFile(outputFile, []byte(output), 0644)
	}

	_, err := io.WriteString(of.out, output)
	return err
}

// formatText 表格输出，CVSS列放在最后以免颜色控制符影响对齐
func (of *OutputFormatter) formatText(report *model.Report, colored bool) string {
	if report == nil || len(report.Records) == 0 {
		return NoData + "\n"
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("%s: %d CVE\n", report.Scope, len(report.Records)))
	builder.WriteString(strings.Repeat("─", 80) + "\n")

	w := tabwriter.NewWriter(&builder, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tPublished\tModified\tPublisher\tProduct\tSummary\tCVSS")
	for _, r := range report.Records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.DatePublished,
			r.DateModified,
			r.Vendor,
			r.Product,
			truncate(r.Summary),
			cvssCell(r.CVSS, colored),
		)
	}
	w.Flush()

	return builder.String()
}

func (of *OutputFormatter) formatJSON(v interface{}) string {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "%v"}`, err)
	}
	return string(jsonBytes) + "\n"
}

func (of *OutputFormatter) formatCSV(report *model.Report) string {
	rows := [][]string{{"id", "date_published", "date_modified", "vendor", "product", "cvss", "cwe", "summary", "references"}}
	if report != nil {
		for _, r := range report.Records {
			rows = append(rows, []string{
				r.ID,
				r.DatePublished,
				r.DateModified,
				r.Vendor,
				r.Product,
				fmt.Sprintf("%.1f", r.CVSS),
				r.CWE,
				r.Summary,
				strings.Join(r.References, " "),
			})
		}
	}
	return formatRows(rows)
}

func formatRows(rows [][]string) string {
	var builder strings.Builder
	writer := csv.NewWriter(&builder)
	writer.WriteAll(rows)
	return builder.String()
}

func cvssCell(score float64, colored bool) string {
	text := fmt.Sprintf("%.1f", score)
	if !colored {
		return text
	}
	if c, ok := severityColors[cvesearch.ColorFor(score)]; ok {
		return c.Sprint(text)
	}
	return text
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) > summaryWidth {
		return string(runes[:summaryWidth]) + "..."
	}
	return s
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]interface{}:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	}
	return false
}
