package rpc

import (
	"github.com/godbus/dbus/v5"

	"fde.dev/ipc/internal/application/ports"
)

// ConfigMethods binds the Config interface. Values are served from settings,
// a property whitelist keyed by dotted config names; reload re-reads the
// configuration source.
func ConfigMethods(settings *PropertyRegistry, reload func() error, logger ports.LoggingGateway) []MethodEntry {
	return []MethodEntry{
		{Interface: InterfaceConfig, Method: MethodGetConfigValue, Handler: getHandler(settings)},
		{Interface: InterfaceConfig, Method: MethodSetConfigValue, Handler: setHandler(settings)},
		{Interface: InterfaceConfig, Method: MethodReloadConfig, Handler: HandlerFunc(func(conn Conn, msg *dbus.Message) Result {
			if err := DecodeArgs(msg, ""); err != nil {
				return ReplyError(conn, msg, ErrorInvalidArgs, err.Error())
			}
			if reload == nil {
				return Reply(conn, msg, false)
			}
			if err := reload(); err != nil {
				logger.LogError(err, "reloading configuration", nil)
				return Reply(conn, msg, false)
			}
			logger.Log(ports.LogLevelInfo, "configuration reloaded", nil)
			return Reply(conn, msg, true)
		})},
	}
}
