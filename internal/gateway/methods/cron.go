// Package methods implements the gateway RPC handlers.
package methods

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nextlevelbuilder/cronbox/internal/cron"
	"github.com/nextlevelbuilder/cronbox/internal/gateway"
	"github.com/nextlevelbuilder/cronbox/pkg/protocol"
)

// CronMethods handles the cron.* RPC methods over a cron.Service.
type CronMethods struct {
	service *cron.Service
}

func NewCronMethods(service *cron.Service) *CronMethods {
	return &CronMethods{service: service}
}

func (m *CronMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodCronList, m.handleList)
	router.Register(protocol.MethodCronStatus, m.handleStatus)
	router.Register(protocol.MethodCronAdd, m.handleAdd)
	router.Register(protocol.MethodCronUpdate, m.handleUpdate)
	router.Register(protocol.MethodCronRemove, m.handleRemove)
	router.Register(protocol.MethodCronRun, m.handleRun)
	router.Register(protocol.MethodCronRuns, m.handleRuns)
}

func (m *CronMethods) handleList(ctx context.Context, req *protocol.RequestFrame) *protocol.ResponseFrame {
	var params struct {
		EnabledOnly bool `json:"enabledOnly"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	// The full job list, disabled included, is the default; enabledOnly
	// is the opt-in filter.
	jobs, err := m.service.List(ctx)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error())
	}
	if params.EnabledOnly {
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.Enabled {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	if jobs == nil {
		jobs = []cron.Job{}
	}

	return protocol.NewOKResponse(req.ID, map[string]interface{}{
		"jobs": jobs,
	})
}

func (m *CronMethods) handleStatus(ctx context.Context, req *protocol.RequestFrame) *protocol.ResponseFrame {
	snap, err := m.service.Status(ctx)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error())
	}
	return protocol.NewOKResponse(req.ID, snap)
}

func (m *CronMethods) handleAdd(ctx context.Context, req *protocol.RequestFrame) *protocol.ResponseFrame {
	var params cron.JobCreate
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params: "+err.Error())
		}
	}

	job, err := m.service.Add(ctx, params)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, err.Error())
	}
	return protocol.NewOKResponse(req.ID, map[string]interface{}{
		"job": job,
	})
}

func (m *CronMethods) handleUpdate(ctx context.Context, req *protocol.RequestFrame) *protocol.ResponseFrame {
	var params struct {
		ID    string        `json:"id"`
		JobID string        `json:"jobId"` // alias
		Patch cron.JobPatch `json:"patch"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	id := params.ID
	if id == "" {
		id = params.JobID
	}
	if id == "" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "id is required")
	}

	job, err := m.service.Update(ctx, id, params.Patch)
	if err != nil {
		if errors.Is(err, cron.ErrNotFound) {
			return protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error())
		}
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, err.Error())
	}
	return protocol.NewOKResponse(req.ID, map[string]interface{}{
		"job": job,
	})
}

func (m *CronMethods) handleRemove(ctx context.Context, req *protocol.RequestFrame) *protocol.ResponseFrame {
	var params struct {
		ID    string `json:"id"`
		JobID string `json:"jobId"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	id := params.ID
	if id == "" {
		id = params.JobID
	}
	if id == "" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "id is required")
	}

	if err := m.service.Remove(ctx, id); err != nil {
		if errors.Is(err, cron.ErrNotFound) {
			return protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error())
		}
		return protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error())
	}
	return protocol.NewOKResponse(req.ID, map[string]interface{}{
		"removed": id,
	})
}

func (m *CronMethods) handleRun(ctx context.Context, req *protocol.RequestFrame) *protocol.ResponseFrame {
	var params struct {
		ID    string `json:"id"`
		JobID string `json:"jobId"`
		Force bool   `json:"force"`
		Mode  string `json:"mode"` // alias: "force"
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	id := params.ID
	if id == "" {
		id = params.JobID
	}
	if id == "" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "id is required")
	}

	// force defaults to false: an unforced run respects the enabled flag.
	force := params.Force || params.Mode == "force"
	if err := m.service.Run(ctx, id, force); err != nil {
		switch {
		case errors.Is(err, cron.ErrNotFound):
			return protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error())
		case errors.Is(err, cron.ErrNoExecutor):
			return protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error())
		default:
			return protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error())
		}
	}
	return protocol.NewOKResponse(req.ID, map[string]interface{}{
		"ran": id,
	})
}

func (m *CronMethods) handleRuns(ctx context.Context, req *protocol.RequestFrame) *protocol.ResponseFrame {
	var params struct {
		ID    string `json:"id"`
		JobID string `json:"jobId"`
		Limit int    `json:"limit"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	id := params.ID
	if id == "" {
		id = params.JobID
	}
	if id == "" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "id is required")
	}

	runs, err := m.service.Runs(ctx, id, params.Limit)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error())
	}
	if runs == nil {
		runs = []cron.RunRecord{}
	}
	return protocol.NewOKResponse(req.ID, map[string]interface{}{
		"entries": runs,
	})
}
