package cpe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"QianKunJing/internal/cpe"
	"QianKunJing/internal/model"
)

func TestFormCPE23String(t *testing.T) {
	tests := []struct {
		name    string
		part    string
		vendor  string
		product string
		fields  []string
		want    string
	}{
		{
			name:    "全部字段",
			part:    "a",
			vendor:  "glpi-project",
			product: "glpi",
			fields:  []string{"9.4.0", "*", "*", "*"},
			want:    "cpe:2.3:a:glpi-project:glpi:9.4.0:*:*:*",
		},
		{
			name:    "缺省字段",
			part:    cpe.PartApplication,
			vendor:  "microsoft",
			product: "active_directory",
			want:    "cpe:2.3:a:microsoft:active_directory:*:*:*:*",
		},
		{
			name:    "只有版本",
			part:    cpe.PartOperatingSystem,
			vendor:  "linux",
			product: "linux_kernel",
			fields:  []string{"5.10"},
			want:    "cpe:2.3:o:linux:linux_kernel:5.10:*:*:*",
		},
		{
			name:    "part不做校验",
			part:    "x",
			vendor:  "Acme",
			product: "Widget Pro",
			fields:  []string{"1.0", "sp1", "pro", "en"},
			want:    "cpe:2.3:x:Acme:Widget Pro:1.0:sp1:pro:en",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cpe.FormCPE23String(tt.part, tt.vendor, tt.product, tt.fields...)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatVendorName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"GLPI-Project", "glpi-project"},
		{"GLPI Project", "glpi_project"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, cpe.FormatVendorName(tt.in))
		})
	}
}

func TestFormatProductName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"GLPI", "glpi"},
		{"Active Directory", "active_directory"},
		{"ASP.NET Core", "asp.net_core"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, cpe.FormatProductName(tt.in))
		})
	}
}

func TestParseVulnerableConfig(t *testing.T) {
	t.Run("9段", func(t *testing.T) {
		got, err := cpe.ParseVulnerableConfig("cpe:2.3:a:acme:widget:1.0:*:*:*")
		require.NoError(t, err)
		assert.Equal(t, model.VulnerableConfig{
			CpeName:    "cpe",
			CpeVersion: "2.3",
			Part:       "a",
			Vendor:     "acme",
			Product:    "widget",
			Version:    "1.0",
			Stability:  "*",
			Platform:   "*",
		}, got)
	})

	t.Run("13段", func(t *testing.T) {
		got, err := cpe.ParseVulnerableConfig("cpe:2.3:a:nginx:nginx:1.20.0:beta:*:*:*:*:*:*")
		require.NoError(t, err)
		assert.Equal(t, "nginx", got.Vendor)
		assert.Equal(t, "1.20.0", got.Version)
		assert.Equal(t, "beta", got.Stability)
	})

	t.Run("段数不足", func(t *testing.T) {
		_, err := cpe.ParseVulnerableConfig("cpe:/a:acme:widget")
		require.Error(t, err)

		var segErr *cpe.SegmentCountError
		require.True(t, xerrors.As(err, &segErr))
		assert.Equal(t, 4, segErr.Got)
		assert.Equal(t, "cpe:/a:acme:widget", segErr.Value)
	})
}
