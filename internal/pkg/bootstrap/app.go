// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/metrics"
	"fulfillment/internal/pkg/nacos"
	"fulfillment/internal/tracing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type AppCtx struct {
	Mux   *http.ServeMux
	Nacos *nacos.Client // 未启用 Nacos 时为 nil
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx)       // 一个函数，允许每个服务注册自己独特的 HTTP 路由
	OnShutdown       func(ctx context.Context) // 关停时释放 kafka/redis/zk 等资源
	Naming           *nacos.Client             // 可选，已经创建好的命名客户端；为空时按配置创建
}

// NewNamingClient 未启用 Nacos 时返回 (nil, nil)
func NewNamingClient(cfg *Config) (*nacos.Client, error) {
	if !cfg.Infra.Nacos.Enabled {
		return nil, nil
	}
	serverConfigs, err := nacos.ServerConfigs(cfg.Infra.Nacos.ServerAddrs)
	if err != nil {
		return nil, err
	}
	clientConfig := nacos.ClientConfig(cfg.Infra.Nacos.Namespace)
	return nacos.NewNacosClientWithConfigs(serverConfigs, &clientConfig, cfg.Infra.Nacos.Group)
}

var nacosConfigClient *nacos.ConfigClient

// ApplyRemoteConfig 启用 Nacos 时拉取配置中心的 YAML 覆盖本地配置，并监听后续变更。
// 变更只替换 GetCurrentConfig 返回的快照，已经构建好的组件不会重建。
func ApplyRemoteConfig(cfg *Config) error {
	nc := cfg.Infra.Nacos
	if !nc.Enabled {
		return nil
	}
	serverConfigs, err := nacos.ServerConfigs(nc.ServerAddrs)
	if err != nil {
		return err
	}
	clientConfig := nacos.ClientConfig(nc.Namespace)
	cc, err := nacos.NewConfigClient(serverConfigs, &clientConfig, nc.Group)
	if err != nil {
		return err
	}
	nacosConfigClient = cc

	content, err := cc.Get(nc.DataID)
	if err != nil {
		return err
	}
	if content != "" {
		next, err := mergeYAML(cfg, content)
		if err != nil {
			return err
		}
		*cfg = *next
		setCurrentConfig(cfg)
	}
	return cc.Listen(nc.DataID, func(content string) {
		next, err := mergeYAML(GetCurrentConfig(), content)
		if err != nil {
			logger.Logger.Error().Err(err).Msg("❌ ignoring invalid remote config")
			return
		}
		setCurrentConfig(next)
	})
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()
	log := logger.Logger

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}
	metrics.Register()

	// 2. 服务注册
	namingClient := info.Naming
	if namingClient == nil {
		if namingClient, err = NewNamingClient(cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize nacos client")
		}
	}
	var ip string
	if namingClient != nil {
		if ip, err = GetOutboundIP(); err != nil {
			log.Fatal().Err(err).Msg("failed to get outbound IP address")
		}
		if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	// 3. 创建并启动 HTTP Server
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: namingClient})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("✅ HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("addr", server.Addr).Msg("could not listen")
		}
	}()

	// 4. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Str("service", info.ServiceName).Msg("🛑 Shutting down service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// a. 从 Nacos 注销服务，停止接收新流量
	if namingClient != nil {
		if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
	}
	if nacosConfigClient != nil {
		nacosConfigClient.Close()
	}

	// b. 关闭 HTTP 服务器
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down http server")
	}

	// c. 业务资源
	if info.OnShutdown != nil {
		info.OnShutdown(ctx)
	}

	// d. 关闭 Tracer Provider，确保所有缓冲的 trace 都被发送出去
	if err := tp.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down tracer provider")
	}
	log.Info().Str("service", info.ServiceName).Msg("✅ Service gracefully shut down.")
}

// GetOutboundIP 通过一次 UDP "连接" 获取本机对外的 IP，不会真正发送数据
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
