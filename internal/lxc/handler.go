package lxc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/2beens/lxcgate/internal/notify"
	"github.com/2beens/lxcgate/internal/proxmox"
	"github.com/2beens/lxcgate/internal/telemetry/tracing"
	"github.com/2beens/lxcgate/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

//go:generate mockgen -source=$GOFILE -destination=handler_mocks_test.go -package=lxc

type controlPlane interface {
	ContainerStatus(ctx context.Context, id int) (*proxmox.ContainerSpecs, error)
	ListContainers(ctx context.Context) (json.RawMessage, error)
	StartContainer(ctx context.Context, id int) (string, error)
	StopContainer(ctx context.Context, id int) (string, error)
	NodeStatus(ctx context.Context) (bool, error)
}

type NodeStatusResponse struct {
	Status string `json:"status"`
}

type Handler struct {
	controlPlane controlPlane
	notifier     notify.Notifier
}

func NewHandler(controlPlane controlPlane, notifier notify.Notifier) *Handler {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Handler{
		controlPlane: controlPlane,
		notifier:     notifier,
	}
}

// SetupRoutes registers the container and node routes; the router is expected
// to already sit behind the access guard.
func (h *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/lxc", h.HandleList).Methods("GET", "OPTIONS").Name("lxc-list")
	router.HandleFunc("/lxc/{id:[0-9]+}", h.HandleStatus).Methods("GET", "OPTIONS").Name("lxc-status")
	router.HandleFunc("/lxc/start/{id:[0-9]+}", h.HandleStart).Methods("POST", "OPTIONS").Name("lxc-start")
	router.HandleFunc("/lxc/stop/{id:[0-9]+}", h.HandleStop).Methods("POST", "OPTIONS").Name("lxc-stop")
	router.HandleFunc("/lxc/power/{id:[0-9]+}/{state}", h.HandlePower).Methods("POST", "OPTIONS").Name("lxc-power")
	router.HandleFunc("/node/status", h.HandleNodeStatus).Methods("GET", "OPTIONS").Name("node-status")
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, span := tracing.GlobalTracer.Start(r.Context(), "lxcHandler.list")
	defer span.End()

	list, err := h.controlPlane.ListContainers(ctx)
	if err != nil {
		h.fail(w, span, err, "/lxc", "Failed to fetch data")
		return
	}

	span.SetStatus(codes.Ok, "")
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, list)
	h.notifier.NotifySuccess("/lxc")
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, span := tracing.GlobalTracer.Start(r.Context(), "lxcHandler.status")
	defer span.End()

	id, ok := containerID(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int("container.id", id))
	endpoint := fmt.Sprintf("/lxc/%d", id)

	specs, err := h.controlPlane.ContainerStatus(ctx, id)
	if err != nil {
		h.fail(w, span, err, endpoint, "Failed to fetch container specifications")
		return
	}

	span.SetStatus(codes.Ok, "")
	pkg.WriteJSON(w, http.StatusOK, specs)
	h.notifier.NotifySuccess(endpoint)
}

func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.handlePowerChange(w, r, "start", "/lxc/start/%d")
}

func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.handlePowerChange(w, r, "stop", "/lxc/stop/%d")
}

func (h *Handler) HandlePower(w http.ResponseWriter, r *http.Request) {
	state := mux.Vars(r)["state"]
	if r.Method != http.MethodOptions && state != "start" && state != "stop" {
		pkg.WriteJSONError(w, http.StatusBadRequest, `Invalid state. Must be "start" or "stop".`)
		return
	}
	h.handlePowerChange(w, r, state, "/lxc/power/%d/"+state)
}

func (h *Handler) handlePowerChange(w http.ResponseWriter, r *http.Request, action, endpointFormat string) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, span := tracing.GlobalTracer.Start(r.Context(), "lxcHandler."+action)
	defer span.End()

	id, ok := containerID(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int("container.id", id))
	endpoint := fmt.Sprintf(endpointFormat, id)

	past := "started"
	powerFunc := h.controlPlane.StartContainer
	if action == "stop" {
		past = "stopped"
		powerFunc = h.controlPlane.StopContainer
	}

	log.Infof("attempting to %s container %d", action, id)
	upid, err := powerFunc(ctx, id)
	if err != nil {
		h.fail(w, span, err, endpoint, fmt.Sprintf("Failed to %s container %d", action, id))
		return
	}

	log.Infof("successfully %s container %d [%s]", past, id, upid)
	span.SetStatus(codes.Ok, "")
	pkg.WriteJSONMessage(w, fmt.Sprintf("Successfully %s container %d", past, id))
	h.notifier.NotifySuccess(endpoint)
}

func (h *Handler) HandleNodeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, span := tracing.GlobalTracer.Start(r.Context(), "lxcHandler.nodeStatus")
	defer span.End()

	online, err := h.controlPlane.NodeStatus(ctx)
	if err != nil {
		h.fail(w, span, err, "/node/status", "Failed to fetch node status")
		return
	}

	status := "offline"
	if online {
		status = "online"
	}

	span.SetStatus(codes.Ok, status)
	pkg.WriteJSON(w, http.StatusOK, NodeStatusResponse{Status: status})
	h.notifier.NotifySuccess("/node/status")
}

// fail logs the upstream error, hands its detail to the notifier, and answers
// the client with a fixed message only.
func (h *Handler) fail(w http.ResponseWriter, span trace.Span, err error, endpoint, message string) {
	log.Errorf("%s: %s", endpoint, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, message)
	pkg.WriteJSONError(w, http.StatusInternalServerError, message)
	h.notifier.NotifyFailure(err, endpoint)
}

func containerID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		pkg.WriteJSONError(w, http.StatusBadRequest, "Invalid container id")
		return 0, false
	}
	return id, true
}
