package rpc

import (
	"github.com/godbus/dbus/v5"

	"fde.dev/ipc/internal/application/ports"
	plugindomain "fde.dev/ipc/internal/core/domain/plugin"
)

// RegistrationObserver is told about every successful RegisterPlugin call
// after the registry has been updated.
type RegistrationObserver interface {
	PluginRegistered(inst plugindomain.Instance)
}

// PluginMethods binds RegisterPlugin on the Plugins interface.
func PluginMethods(plugins ports.PluginRepository, broadcaster *Broadcaster, observer RegistrationObserver, logger ports.LoggingGateway) []MethodEntry {
	return []MethodEntry{
		{Interface: InterfacePlugins, Method: MethodRegisterPlugin, Handler: &registerPlugin{
			plugins:     plugins,
			broadcaster: broadcaster,
			observer:    observer,
			logger:      logger,
		}},
	}
}

type registerPlugin struct {
	plugins     ports.PluginRepository
	broadcaster *Broadcaster
	observer    RegistrationObserver
	logger      ports.LoggingGateway
}

func (h *registerPlugin) Handle(conn Conn, msg *dbus.Message) Result {
	var (
		name        string
		handlerType string
		pid         int32
	)
	if err := DecodeArgs(msg, "ssi", &name, &handlerType, &pid); err != nil {
		return ReplyError(conn, msg, ErrorInvalidArgs, err.Error())
	}
	if name == "" {
		return ReplyError(conn, msg, ErrorInvalidArgs, "plugin name must not be empty")
	}

	inst, created, known := h.plugins.Register(name, handlerType, pid)
	fields := map[string]interface{}{
		"plugin":       name,
		"handler_type": handlerType,
		"pid":          pid,
		"address":      inst.Address,
	}
	if !known {
		h.logger.Log(ports.LogLevelWarn, "unknown handler type, no capability granted", fields)
	}
	if created {
		h.logger.Log(ports.LogLevelInfo, "plugin registered without supervision", fields)
	} else {
		h.logger.Log(ports.LogLevelInfo, "plugin registered", fields)
	}

	if h.observer != nil {
		h.observer.PluginRegistered(inst)
	}

	res := Reply(conn, msg, true)
	if err := h.broadcaster.Broadcast(InterfaceCore, SignalPluginRegistered,
		String(name), String(handlerType), Int32(pid)); err != nil {
		h.logger.LogError(err, "broadcasting registration", fields)
	}
	return res
}
