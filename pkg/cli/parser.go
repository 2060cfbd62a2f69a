package cli

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli"
	"golang.org/x/xerrors"

	"QianKunJing/internal/config"
	"QianKunJing/internal/cvesearch"
	"QianKunJing/internal/inventory"
	"QianKunJing/internal/model"
	"QianKunJing/internal/report"
	"QianKunJing/internal/server"
	"QianKunJing/internal/telemetry"
	"QianKunJing/internal/utils"
)

func NewApp(version string) *cli.App {
	app := cli.NewApp()
	app.Name = "QianKunJing"
	app.Version = version
	app.Usage = "乾坤镜 - 基于CVE-Search的软件资产漏洞查询工具"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "YAML配置文件路径",
			EnvVar: "QKJ_CONFIG",
		},
		cli.StringFlag{
			Name:  "url",
			Usage: "CVE-Search服务地址，例如 https://cve.circl.lu",
		},
		cli.BoolFlag{
			Name:  "insecure",
			Usage: "跳过TLS证书校验",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Usage: "请求超时时间",
			Value: config.DefaultTimeout,
		},
		cli.StringFlag{
			Name:  "db",
			Usage: "资产数据库路径",
		},
		cli.StringFlag{
			Name:  "format, f",
			Usage: "输出格式 (text, json, csv, pdf)",
			Value: "text",
		},
		cli.StringFlag{
			Name:  "output, o",
			Usage: "输出文件",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "显示调试日志",
		},
	}

	app.Before = func(c *cli.Context) error {
		utils.SetOutput(os.Stderr)
		utils.SetDebug(c.GlobalBool("debug") || os.Getenv("DEBUG") == "true")
		telemetry.InitMetrics()
		return nil
	}

	app.After = func(c *cli.Context) error {
		if c.GlobalBool("debug") {
			logRequestCounts()
		}
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:   "report",
			Usage:  "查询资产清单中全部软件的CVE",
			Action: reportAction,
		},
		{
			Name:      "software",
			Usage:     "按软件ID查询CVE（不区分版本）",
			ArgsUsage: "software_id",
			Action:    softwareAction,
		},
		{
			Name:      "version",
			Usage:     "按软件版本ID查询CVE",
			ArgsUsage: "softwareversion_id",
			Action:    versionAction,
		},
		{
			Name:      "cpe",
			Usage:     "按厂商、产品、版本或完整CPE字符串查询CVE",
			ArgsUsage: "vendor product [version] | cpe:2.3:...",
			Action:    cpeAction,
		},
		{
			Name:   "recent",
			Usage:  "最新CVE",
			Action: recentAction,
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "limit, n",
					Usage: "条数",
					Value: report.DefaultRecentLimit,
				},
			},
		},
		{
			Name:   "query",
			Usage:  "按过滤条件查询CVE",
			Action: queryAction,
			Flags: []cli.Flag{
				cli.StringSliceFlag{
					Name:  "filter",
					Usage: "过滤条件 key=value，可用键: " + strings.Join(cvesearch.QueryCriteria, ", "),
				},
			},
		},
		{
			Name:      "browse",
			Usage:     "列出厂商，或指定厂商的产品",
			ArgsUsage: "[vendor]",
			Action:    browseAction,
		},
		{
			Name:      "cve",
			Usage:     "查询单个CVE",
			ArgsUsage: "CVE-ID",
			Action:    cveAction,
		},
		{
			Name:      "cwe",
			Usage:     "查询CWE，不带参数时列出全部",
			ArgsUsage: "[CWE-ID]",
			Action:    cweAction,
		},
		{
			Name:      "capec",
			Usage:     "查询CWE相关的CAPEC，或用 --show 查询单个CAPEC",
			ArgsUsage: "id",
			Action:    capecAction,
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "show",
					Usage: "参数为CAPEC ID",
				},
			},
		},
		{
			Name:      "link",
			Usage:     "按关联字段查询CVE，例如 link cwe CWE-79",
			ArgsUsage: "key value",
			Action:    linkAction,
		},
		{
			Name:   "seed",
			Usage:  "向资产数据库写入示例数据",
			Action: seedAction,
		},
		{
			Name:   "serve",
			Usage:  "以HTTP接口提供报告和/metrics",
			Action: serveAction,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "listen, l",
					Usage: "监听地址",
					Value: ":8080",
				},
			},
		},
	}

	return app
}

// loadConfig 配置文件 < 环境变量 < 命令行参数
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return cfg, xerrors.Errorf("加载配置失败: %w", err)
	}

	if u := c.GlobalString("url"); u != "" {
		cfg.Service.BaseURL = u
	}
	if c.GlobalBool("insecure") {
		cfg.Service.SkipTLSVerify = true
	}
	if c.GlobalIsSet("timeout") {
		cfg.Service.Timeout = c.GlobalDuration("timeout")
	}
	if db := c.GlobalString("db"); db != "" {
		cfg.InventoryDB = db
	}

	return cfg, nil
}

// session 一次命令执行所需的依赖
type session struct {
	cfg       config.Config
	client    *cvesearch.Client
	store     *inventory.Store
	formatter *OutputFormatter
	output    string
	logger    *utils.Logger
}

func newSession(c *cli.Context, withStore bool) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:       cfg,
		client:    cvesearch.New(cfg.Service),
		formatter: NewOutputFormatter(c.GlobalString("format")),
		output:    c.GlobalString("output"),
		logger:    utils.NewLogger("cli"),
	}

	if !s.client.Configured() {
		s.logger.Warn("未配置CVE-Search服务地址，所有查询将返回空结果")
	}

	if withStore && cfg.InventoryDB != "" {
		store, err := inventory.NewStore(cfg.InventoryDB)
		if err != nil {
			return nil, xerrors.Errorf("打开资产数据库失败: %w", err)
		}
		s.store = store
	}

	return s, nil
}

func (s *session) Close() {
	if s.store != nil {
		s.store.Close()
	}
}

func (s *session) service() *report.Service {
	var inv report.Inventory
	if s.store != nil {
		inv = s.store
	}
	return report.NewService(s.client, inv, s.cfg)
}

// printReport 查询失败时记录错误并输出空结果
func (s *session) printReport(rep *model.Report, err error) error {
	if err != nil {
		s.logger.Error("查询CVE失败: %v", err)
		rep = &model.Report{Records: []model.CveRecord{}}
	}
	return s.formatter.PrintReport(rep, s.output)
}

func (s *session) printRaw(v interface{}, err error) error {
	if err != nil {
		s.logger.Error("查询失败: %v", err)
		v = nil
	}
	return s.formatter.PrintRaw(v, s.output)
}

func reportAction(c *cli.Context) error {
	s, err := newSession(c, true)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.printReport(s.service().ForInventory(context.Background()))
}

func softwareAction(c *cli.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	s, err := newSession(c, true)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.printReport(s.service().ForSoftware(context.Background(), id))
}

func versionAction(c *cli.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	s, err := newSession(c, true)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.printReport(s.service().ForSoftwareVersion(context.Background(), id))
}

func cpeAction(c *cli.Context) error {
	args := c.Args()
	if len(args) == 0 {
		return xerrors.New("需要指定 vendor product [version] 或CPE字符串")
	}

	s, err := newSession(c, false)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()

	if len(args) == 1 && strings.HasPrefix(args[0], "cpe:") {
		batch, err := s.client.GetCveForCpe(ctx, args[0], cvesearch.DefaultLimit)
		if err != nil {
			return s.printReport(nil, err)
		}
		records := cvesearch.NewNormalizer(cvesearch.NormalizeOptions{SkipMalformedEntries: s.cfg.SkipMalformedEntries}).
			Format(batch, "", "")
		return s.printReport(&model.Report{Scope: args[0], Records: cvesearch.SortByPublished(records)}, nil)
	}

	if len(args) < 2 {
		return xerrors.New("需要同时指定 vendor 和 product")
	}
	triple := model.Software{Vendor: args[0], Product: args[1]}
	if len(args) > 2 {
		triple.Version = args[2]
	}

	return s.printReport(s.service().ForTriples(ctx, []model.Software{triple}))
}

func recentAction(c *cli.Context) error {
	s, err := newSession(c, false)
	if err != nil {
		return err
	}
	defer s.Close()

	feed, err := s.service().Recent(context.Background(), c.Int("limit"))
	if err != nil {
		s.logger.Error("查询最新CVE失败: %v", err)
		feed = nil
	}
	return s.formatter.PrintRecent(feed, s.output)
}

func queryAction(c *cli.Context) error {
	filters, err := parseFilters(c.StringSlice("filter"))
	if err != nil {
		return err
	}

	s, err := newSession(c, false)
	if err != nil {
		return err
	}
	defer s.Close()

	batch, err := s.client.Query(context.Background(), filters)
	if err != nil {
		return s.printReport(nil, err)
	}
	records := cvesearch.NewNormalizer(cvesearch.NormalizeOptions{SkipMalformedEntries: s.cfg.SkipMalformedEntries}).
		Format(batch, "", "")
	return s.printReport(&model.Report{Scope: "query", Records: cvesearch.SortByPublished(records)}, nil)
}

func browseAction(c *cli.Context) error {
	s, err := newSession(c, false)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()

	var list []string
	if vendor := c.Args().First(); vendor != "" {
		list, err = s.client.GetProductsByVendor(ctx, vendor)
	} else {
		list, err = s.client.GetVendors(ctx)
	}
	if err != nil {
		s.logger.Error("查询失败: %v", err)
		list = nil
	}
	return s.formatter.PrintStrings(list, s.output)
}

func cveAction(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return xerrors.New("需要指定CVE ID")
	}

	s, err := newSession(c, false)
	if err != nil {
		return err
	}
	defer s.Close()

	entry, err := s.client.GetCve(context.Background(), id)
	if err != nil {
		return s.printReport(nil, err)
	}

	records := []model.CveRecord{}
	if len(entry) > 0 {
		records = cvesearch.FormatCveResults(model.RawBatch{entry}, "", "")
	}
	return s.printReport(&model.Report{Scope: id, Records: records}, nil)
}

func cweAction(c *cli.Context) error {
	s, err := newSession(c, false)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.printRaw(s.client.GetCwe(context.Background(), c.Args().First()))
}

func capecAction(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return xerrors.New("需要指定ID")
	}

	s, err := newSession(c, false)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	if c.Bool("show") {
		entry, err := s.client.GetCapec(ctx, id)
		return s.printRaw(entry, err)
	}
	batch, err := s.client.GetCapecForCwe(ctx, id)
	return s.printRaw(batch, err)
}

func linkAction(c *cli.Context) error {
	args := c.Args()
	if len(args) < 2 {
		return xerrors.New("需要指定 key 和 value")
	}

	s, err := newSession(c, false)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.printRaw(s.client.GetCveByLink(context.Background(), args[0], args[1]))
}

func seedAction(c *cli.Context) error {
	s, err := newSession(c, true)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.store == nil {
		return report.ErrNoInventory
	}
	return s.store.InitTestData(context.Background())
}

func serveAction(c *cli.Context) error {
	s, err := newSession(c, true)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return server.NewServer(c.String("listen"), s.service()).Run(ctx)
}

func parseID(c *cli.Context) (int64, error) {
	arg := c.Args().First()
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("无效的ID %q: %w", arg, err)
	}
	return id, nil
}

// parseFilters 解析 key=value 形式的过滤条件
func parseFilters(items []string) (map[string]string, error) {
	filters := make(map[string]string, len(items))
	for _, item := range items {
		key, value, ok := strings.Cut(item, "=")
		if !ok || key == "" {
			return nil, xerrors.Errorf("无效的过滤条件 %q，应为 key=value", item)
		}
		filters[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return filters, nil
}

func logRequestCounts() {
	counts, err := telemetry.RequestCounts()
	if err != nil {
		return
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	logger := utils.NewLogger("telemetry")
	for _, k := range keys {
		logger.Debug("CVE-Search请求 %s: %.0f", k, counts[k])
	}
}
