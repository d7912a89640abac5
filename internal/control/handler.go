// Package control owns the detection switch and the MQTT control plane that drives it.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/emotion-sensor/internal/config"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnGetStatus      func() map[string]interface{}
	OnStartDetection func() error
	OnStopDetection  func() error
	OnSetModel       func(path string) error
	OnGetResults     func() map[string]interface{}
	OnShutdown       func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg       *config.Config
	client    mqtt.Client
	commands  chan Command
	callbacks CommandCallbacks

	// respond delivers an encoded response; defaults to publishing on the status topic
	respond func(payload []byte)

	stopOnce sync.Once
}

// NewHandler creates a new control plane handler
func NewHandler(cfg *config.Config, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	h := &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
	h.respond = h.publishResponse
	return h
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	go h.processCommands(ctx)

	return nil
}

// Stop stops the control plane handler
func (h *Handler) Stop() error {
	h.stopOnce.Do(func() {
		if h.client != nil && h.client.IsConnected() {
			token := h.client.Unsubscribe(h.cfg.MQTT.Topics.Control)
			token.WaitTimeout(2 * time.Second)
		}
		close(h.commands)
		slog.Info("control plane handler stopped")
	})
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	h.enqueue(msg.Payload())
}

func (h *Handler) enqueue(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

// handleCommand executes a command
func (h *Handler) handleCommand(cmd Command) {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "get_status":
		h.query(&resp, h.callbacks.OnGetStatus)

	case "get_results":
		h.query(&resp, h.callbacks.OnGetResults)

	case "start_detection":
		h.action(&resp, h.callbacks.OnStartDetection, map[string]interface{}{
			"detection_active": true,
		})

	case "stop_detection":
		h.action(&resp, h.callbacks.OnStopDetection, map[string]interface{}{
			"detection_active": false,
		})

	case "set_model":
		path, ok := cmd.Params["path"].(string)
		if !ok || path == "" {
			resp.Status = "error"
			resp.Error = "missing or invalid 'path' parameter (expected string)"
			break
		}
		if h.callbacks.OnSetModel == nil {
			resp.Status = "error"
			resp.Error = "set_model not implemented"
			break
		}
		h.action(&resp, func() error { return h.callbacks.OnSetModel(path) }, map[string]interface{}{
			"model":   path,
			"message": "model switched",
		})

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			resp.Status = "error"
			resp.Error = "shutdown not implemented"
			break
		}
		slog.Warn("shutdown command received via MQTT control plane")
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"shutdown_initiated": true,
			"message":            "graceful shutdown in progress",
		}
		// Send response BEFORE triggering shutdown
		h.sendResponse(resp)

		go func() {
			time.Sleep(500 * time.Millisecond)
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

func (h *Handler) query(resp *Response, fn func() map[string]interface{}) {
	if fn == nil {
		resp.Status = "error"
		resp.Error = resp.CommandAck + " not implemented"
		return
	}
	resp.Status = "success"
	resp.Data = fn()
}

func (h *Handler) action(resp *Response, fn func() error, data map[string]interface{}) {
	if fn == nil {
		resp.Status = "error"
		resp.Error = resp.CommandAck + " not implemented"
		return
	}
	if err := fn(); err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return
	}
	resp.Status = "success"
	resp.Data = data
}

// sendResponse encodes and delivers a response
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}
	h.respond(payload)

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

// publishResponse publishes a response on the status topic
func (h *Handler) publishResponse(payload []byte) {
	topic := h.cfg.MQTT.Topics.Status
	qos := h.cfg.MQTT.QoS["status"]

	token := h.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
	}
}
