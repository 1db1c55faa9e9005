package main

import (
	"context"
	"flag"
	"os"

	"tokenrouter/cmd/token-router/internal/biz"
	"tokenrouter/cmd/token-router/internal/infra"
	"tokenrouter/cmd/token-router/internal/server"
	"tokenrouter/pkg/config"
	"tokenrouter/pkg/logging"
	"tokenrouter/pkg/observability"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	"github.com/go-kratos/kratos/v2/transport/http"
	"google.golang.org/grpc/health"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	Name     = "token-router"
	Version  = "v1.0.0"
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/token-router.yaml", "config path")
}

func newApp(
	logger log.Logger,
	gs *grpc.Server,
	hs *http.Server,
	healthServer *health.Server,
	registry *server.ConsulRegistry,
	monitor *biz.HealthMonitor,
	scheduler *biz.AllocationScheduler,
	consumer *infra.HeartbeatConsumer,
) *kratos.App {
	servers := []transport.Server{gs, hs, monitor, scheduler}
	if consumer != nil {
		servers = append(servers, consumer)
	}
	helper := log.NewHelper(logger)

	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(servers...),
		kratos.AfterStart(func(context.Context) error {
			server.SetServing(healthServer, true)
			if err := registry.Register(); err != nil {
				// 注册失败不影响本地服务
				helper.Errorf("consul register: %v", err)
			}
			return nil
		}),
		kratos.BeforeStop(func(context.Context) error {
			server.SetServing(healthServer, false)
			if err := registry.Deregister(); err != nil {
				helper.Errorf("consul deregister: %v", err)
			}
			return nil
		}),
	)
}

func main() {
	flag.Parse()

	manager := config.NewManager(log.NewStdLogger(os.Stdout))
	if err := manager.LoadConfig(flagconf, Name); err != nil {
		panic(err)
	}
	defer manager.Close()

	var cfg Config
	if err := manager.Unmarshal(&cfg); err != nil {
		panic(err)
	}

	zapLogger, err := logging.NewZap(cfg.Log, map[string]interface{}{
		"service": Name,
		"version": Version,
	})
	if err != nil {
		panic(err)
	}
	zl := logging.NewLogger(zapLogger)
	defer zl.Sync()

	logger := log.With(zl,
		"service.id", id,
		"trace.id", tracing.TraceID(),
		"span.id", tracing.SpanID(),
	)
	helper := log.NewHelper(logger)

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = Name
	}
	if cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = Version
	}
	shutdownTracing, err := observability.InitTracing(context.Background(), cfg.Tracing)
	if err != nil {
		helper.Fatalf("init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			helper.Errorf("shutdown tracing: %v", err)
		}
	}()

	app, cleanup, err := wireApp(&cfg, logger)
	if err != nil {
		helper.Fatalf("init app: %v", err)
	}
	defer cleanup()

	helper.Infow("msg", "service starting", "name", Name, "version", Version, "config_mode", manager.GetMode())

	if err := app.Run(); err != nil {
		helper.Errorf("app exited: %v", err)
	}
}
