package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QianKunJing/internal/model"
)

func newTestFormatter(format string) (*OutputFormatter, *bytes.Buffer) {
	var buf bytes.Buffer
	of := NewOutputFormatter(format)
	of.out = &buf
	return of, &buf
}

var sampleReport = &model.Report{
	Scope: "inventory",
	Records: []model.CveRecord{
		{
			ID:            "CVE-2020-11060",
			DatePublished: "2020-05-12T21:15:00",
			DateModified:  "2020-05-19T15:28:00",
			Vendor:        "GLPI-Project",
			Product:       "GLPI",
			Summary:       "GLPI &lt;script&gt;",
			CVSS:          9.0,
			CWE:           "CWE-74",
			References:    []string{"https://example.com/a", "https://example.com/b"},
		},
		{
			ID:            "CVE-2019-10232",
			DatePublished: "2019-03-27T21:29:00",
			Vendor:        "GLPI-Project",
			Product:       "GLPI",
			Summary:       strings.Repeat("长", 150),
			CVSS:          7.5,
		},
	},
}

func TestPrintReportText(t *testing.T) {
	color.NoColor = false
	defer func() { color.NoColor = true }()

	of, buf := newTestFormatter("text")
	require.NoError(t, of.PrintReport(sampleReport, ""))

	out := buf.String()
	assert.Contains(t, out, "inventory: 2 CVE")
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "Publisher")
	assert.Contains(t, out, "CVE-2020-11060")
	assert.Contains(t, out, severityColors["red"].Sprint("9.0"))
	assert.Contains(t, out, strings.Repeat("长", 100)+"...")
	assert.NotContains(t, out, strings.Repeat("长", 101))
}

func TestPrintReportEmpty(t *testing.T) {
	for _, report := range []*model.Report{nil, {Records: []model.CveRecord{}}} {
		of, buf := newTestFormatter("text")
		require.NoError(t, of.PrintReport(report, ""))
		assert.Equal(t, NoData+"\n", buf.String())
	}
}

func TestPrintReportJSON(t *testing.T) {
	of, buf := newTestFormatter("JSON")
	require.NoError(t, of.PrintReport(sampleReport, ""))

	var got model.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "inventory", got.Scope)
	require.Len(t, got.Records, 2)
	assert.Equal(t, 9.0, got.Records[0].CVSS)
}

func TestPrintReportCSV(t *testing.T) {
	of, buf := newTestFormatter("csv")
	require.NoError(t, of.PrintReport(sampleReport, ""))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,date_published,date_modified,vendor,product,cvss,cwe,summary,references", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "CVE-2020-11060,2020-05-12T21:15:00,2020-05-19T15:28:00,GLPI-Project,GLPI,9.0,CWE-74,"))
	assert.True(t, strings.HasSuffix(lines[1], "https://example.com/a https://example.com/b"))
}

func TestPrintReportToFile(t *testing.T) {
	color.NoColor = false
	defer func() { color.NoColor = true }()

	path := filepath.Join(t.TempDir(), "report.txt")
	of, buf := newTestFormatter("text")
	require.NoError(t, of.PrintReport(sampleReport, path))
	assert.Empty(t, buf.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "CVE-2019-10232")
	assert.NotContains(t, string(data), "\x1b[")
}

func TestPrintRecent(t *testing.T) {
	feed := []model.RecentCve{{ID: "CVE-2024-0001", Summary: "latest", Published: "2024-01-01T00:00:00"}}

	of, buf := newTestFormatter("text")
	require.NoError(t, of.PrintRecent(feed, ""))
	assert.Contains(t, buf.String(), "CVE-2024-0001")
	assert.Contains(t, buf.String(), "latest")

	of, buf = newTestFormatter("csv")
	require.NoError(t, of.PrintRecent(feed, ""))
	assert.Equal(t, "id,published,summary\nCVE-2024-0001,2024-01-01T00:00:00,latest\n", buf.String())

	of, buf = newTestFormatter("text")
	require.NoError(t, of.PrintRecent(nil, ""))
	assert.Equal(t, NoData+"\n", buf.String())
}

func TestPrintStrings(t *testing.T) {
	of, buf := newTestFormatter("text")
	require.NoError(t, of.PrintStrings([]string{"glpi-project", "nginx"}, ""))
	assert.Equal(t, "glpi-project\nnginx\n", buf.String())

	of, buf = newTestFormatter("json")
	require.NoError(t, of.PrintStrings([]string{"nginx"}, ""))
	assert.JSONEq(t, `["nginx"]`, buf.String())
}

func TestPrintRaw(t *testing.T) {
	of, buf := newTestFormatter("text")
	require.NoError(t, of.PrintRaw(map[string]interface{}{"id": "79"}, ""))
	assert.JSONEq(t, `{"id":"79"}`, buf.String())

	for _, v := range []interface{}{nil, map[string]interface{}{}, []interface{}{}, model.RawBatch{}} {
		of, buf = newTestFormatter("json")
		require.NoError(t, of.PrintRaw(v, ""))
		assert.Equal(t, NoData+"\n", buf.String())
	}
}

func TestCvssCell(t *testing.T) {
	color.NoColor = false
	defer func() { color.NoColor = true }()

	assert.Equal(t, "0.0", cvssCell(0, true))
	assert.Equal(t, "5.0", cvssCell(5, false))
	assert.Equal(t, severityColors["yellow"].Sprint("5.0"), cvssCell(5, true))
	assert.Equal(t, severityColors["orange"].Sprint("7.2"), cvssCell(7.2, true))
}

func TestPrintReportPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.pdf")
	of, _ := newTestFormatter("pdf")
	require.NoError(t, of.PrintReport(sampleReport, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF-"))
}
