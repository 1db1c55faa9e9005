package server

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/consul/api"
)

const (
	// 健康检查间隔
	HealthCheckInterval = "10s"
	HealthCheckTimeout  = "1s"

	// 注销延迟 (服务异常后多久注销)
	DeregisterCriticalServiceAfter = "30s"
)

// RegistryConfig Consul 注册配置，Address 为空时不注册
type RegistryConfig struct {
	Address string `mapstructure:"address"`
	Version string `mapstructure:"version"`
}

// ConsulRegistry Consul 服务注册器
type ConsulRegistry struct {
	client     *api.Client
	serviceID  string
	host       string
	grpcPort   int
	httpPort   int
	version    string
	logger     *log.Helper
	registered bool
}

// NewConsulRegistry 创建 Consul 注册器。未配置地址时返回 nil，调用方法为空操作。
func NewConsulRegistry(c *RegistryConfig, httpCfg *HTTPConfig, grpcCfg *GRPCConfig, logger log.Logger) (*ConsulRegistry, error) {
	if c == nil || c.Address == "" {
		return nil, nil
	}

	config := api.DefaultConfig()
	config.Address = c.Address
	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	httpPort, err := portOf(httpCfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("http addr: %w", err)
	}
	grpcPort, err := portOf(grpcCfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("grpc addr: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	host, err := getLocalIP()
	if err != nil {
		return nil, fmt.Errorf("failed to get local IP: %w", err)
	}

	return &ConsulRegistry{
		client:    client,
		serviceID: fmt.Sprintf("%s-%s-%d", serviceName, hostname, grpcPort),
		host:      host,
		grpcPort:  grpcPort,
		httpPort:  httpPort,
		version:   c.Version,
		logger:    log.NewHelper(log.With(logger, "module", "server/registry")),
	}, nil
}

// Register 注册服务到 Consul
func (r *ConsulRegistry) Register() error {
	if r == nil {
		return nil
	}

	registration := &api.AgentServiceRegistration{
		ID:      r.serviceID,
		Name:    serviceName,
		Port:    r.grpcPort,
		Address: r.host,
		Tags:    []string{"grpc", "http", "tokens", "routing"},
		Meta: map[string]string{
			"version":     r.version,
			"protocol":    "grpc",
			"http_port":   strconv.Itoa(r.httpPort),
			"environment": getEnvironment(),
		},
		Checks: api.AgentServiceChecks{
			{
				CheckID:                        r.serviceID + "-grpc-check",
				Name:                           "gRPC Health Check",
				GRPC:                           fmt.Sprintf("%s:%d/%s", r.host, r.grpcPort, serviceName),
				Interval:                       HealthCheckInterval,
				Timeout:                        HealthCheckTimeout,
				DeregisterCriticalServiceAfter: DeregisterCriticalServiceAfter,
			},
			{
				CheckID:                        r.serviceID + "-http-check",
				Name:                           "HTTP Readiness Check",
				HTTP:                           fmt.Sprintf("http://%s:%d/ready", r.host, r.httpPort),
				Method:                         "GET",
				Interval:                       HealthCheckInterval,
				Timeout:                        HealthCheckTimeout,
				DeregisterCriticalServiceAfter: DeregisterCriticalServiceAfter,
			},
		},
	}

	if err := r.client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	r.registered = true
	r.logger.Infof("service registered: %s (ID: %s, host: %s, grpc: %d, http: %d)",
		serviceName, r.serviceID, r.host, r.grpcPort, r.httpPort)
	return nil
}

// Deregister 从 Consul 注销服务
func (r *ConsulRegistry) Deregister() error {
	if r == nil || !r.registered {
		return nil
	}

	if err := r.client.Agent().ServiceDeregister(r.serviceID); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}

	r.registered = false
	r.logger.Infof("service deregistered: %s (ID: %s)", serviceName, r.serviceID)
	return nil
}

// portOf 解析 ":8000" / "0.0.0.0:8000" 形式地址中的端口
func portOf(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}

// getLocalIP 获取本机 IP 地址
func getLocalIP() (string, error) {
	if ip := os.Getenv("HOST_IP"); ip != "" {
		return ip, nil
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String(), nil
			}
		}
	}
	return "", fmt.Errorf("no valid local IP found")
}

// getEnvironment 获取运行环境
func getEnvironment() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "development"
}
