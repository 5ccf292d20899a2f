// internal/pkg/nacos/config_client.go
package nacos

import (
	"fmt"

	"fulfillment/internal/pkg/logger"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

// ConfigClient 封装 Nacos 配置中心客户端
type ConfigClient struct {
	client    config_client.IConfigClient
	groupName string
}

func NewConfigClient(serverConfigs []constant.ServerConfig, clientConfig *constant.ClientConfig, groupName string) (*ConfigClient, error) {
	if groupName == "" {
		groupName = "DEFAULT_GROUP"
	}
	cc, err := clients.NewConfigClient(vo.NacosClientParam{
		ClientConfig:  clientConfig,
		ServerConfigs: serverConfigs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create nacos config client: %w", err)
	}
	return &ConfigClient{client: cc, groupName: groupName}, nil
}

// Get 读取配置内容
func (c *ConfigClient) Get(dataID string) (string, error) {
	content, err := c.client.GetConfig(vo.ConfigParam{DataId: dataID, Group: c.groupName})
	if err != nil {
		return "", fmt.Errorf("failed to get nacos config %s: %w", dataID, err)
	}
	return content, nil
}

// Listen 监听配置变更，onChange 在 SDK 的回调 goroutine 中执行
func (c *ConfigClient) Listen(dataID string, onChange func(content string)) error {
	err := c.client.ListenConfig(vo.ConfigParam{
		DataId: dataID,
		Group:  c.groupName,
		OnChange: func(namespace, group, dataId, data string) {
			logger.Logger.Info().Str("data_id", dataId).Str("group", group).Msg("🔄 Nacos config changed")
			onChange(data)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to listen nacos config %s: %w", dataID, err)
	}
	return nil
}

func (c *ConfigClient) Close() {
	c.client.CloseClient()
}
