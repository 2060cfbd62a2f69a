package inventory

import (
	"context"

	"golang.org/x/xerrors"
)

type seedSoftware struct {
	vendor   string
	product  string
	versions []string
}

// InitTestData 写入示例资产数据
func (s *Store) InitTestData(ctx context.Context) error {
	s.logger.Info("初始化示例资产数据...")

	samples := []seedSoftware{
		{vendor: "GLPI-Project", product: "GLPI", versions: []string{"9.4.0", "9.5.3"}},
		{vendor: "Nginx", product: "nginx", versions: []string{"1.20.0"}},
		{vendor: "Apache", product: "HTTP Server", versions: []string{"2.4.48"}},
		{vendor: "OpenSSL", product: "OpenSSL", versions: []string{"3.0.6"}},
		{vendor: "Microsoft", product: "ASP.NET Core", versions: []string{"5.0"}},
		// 没有厂商的软件在查询时会被跳过
		{product: "In-house Tool", versions: []string{"0.1"}},
	}

	successCount := 0
	for _, sample := range samples {
		var manufacturerID int64
		if sample.vendor != "" {
			id, err := s.AddManufacturer(ctx, sample.vendor)
			if err != nil {
				return xerrors.Errorf("seed %s: %w", sample.vendor, err)
			}
			manufacturerID = id
		}

		softwareID, err := s.AddSoftware(ctx, sample.product, manufacturerID)
		if err != nil {
			return xerrors.Errorf("seed %s: %w", sample.product, err)
		}

		for _, version := range sample.versions {
			if _, err := s.AddVersion(ctx, softwareID, version); err != nil {
				s.logger.Error("插入版本失败 %s %s: %v", sample.product, version, err)
				continue
			}
			successCount++
			s.logger.Debug("插入软件: %s %s %s", sample.vendor, sample.product, version)
		}
	}

	s.logger.Info("示例资产数据初始化完成，成功插入 %d 个软件版本", successCount)
	return nil
}
