package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loykin/devdash/internal/script"
)

type executeRequest struct {
	Arguments   string            `json:"arguments"`
	Environment map[string]string `json:"environment"`
	// UseRepositoryEnv layers the repository's stored variables under
	// Environment.
	UseRepositoryEnv bool `json:"useRepositoryEnv"`
}

func scriptErrorText(err error) string {
	switch {
	case errors.Is(err, script.ErrNotFound):
		return "Script not found"
	case errors.Is(err, script.ErrAlreadyRunning):
		return "Script is already running"
	}
	return err.Error()
}

func (r *Router) listScripts(c *gin.Context) {
	page, limit, err := pageQuery(c)
	if err != nil {
		failValidation(c, err)
		return
	}
	all := r.deps.Scripts.List(c.Query("repositoryId"))
	writeJSON(c, http.StatusOK, envelope{
		Success:    true,
		Data:       paginate(all, page, limit),
		Pagination: newPagination(page, limit, len(all)),
	})
}

func (r *Router) runningScripts(c *gin.Context) {
	ok(c, http.StatusOK, r.deps.Scripts.Running())
}

func (r *Router) getScript(c *gin.Context) {
	rec, err := r.deps.Scripts.Get(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, "Script not found")
		return
	}
	ok(c, http.StatusOK, rec)
}

func (r *Router) createScript(c *gin.Context) {
	var in script.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		failValidation(c, err)
		return
	}
	rec, err := r.deps.Scripts.Create(in)
	if err != nil {
		if errors.Is(err, script.ErrValidation) {
			failValidation(c, err)
			return
		}
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ok(c, http.StatusCreated, rec)
}

func (r *Router) updateScript(c *gin.Context) {
	var in script.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		failValidation(c, err)
		return
	}
	rec, err := r.deps.Scripts.Update(c.Param("id"), in)
	switch {
	case err == nil:
		ok(c, http.StatusOK, rec)
	case errors.Is(err, script.ErrNotFound):
		fail(c, http.StatusNotFound, "Script not found")
	case errors.Is(err, script.ErrValidation):
		failValidation(c, err)
	default:
		fail(c, http.StatusBadRequest, err.Error())
	}
}

func (r *Router) deleteScript(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), r.deps.DeleteTimeout)
	defer cancel()
	err := r.deps.Scripts.Delete(ctx, c.Param("id"))
	switch {
	case err == nil:
		writeJSON(c, http.StatusOK, envelope{Success: true})
	case errors.Is(err, script.ErrNotFound):
		fail(c, http.StatusNotFound, "Script not found")
	default:
		fail(c, http.StatusInternalServerError, err.Error())
	}
}

func (r *Router) executeScript(c *gin.Context) {
	var req executeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			failValidation(c, err)
			return
		}
	}
	id := c.Param("id")
	envs := req.Environment
	if req.UseRepositoryEnv {
		if rec, err := r.deps.Scripts.Get(id); err == nil && r.deps.Env != nil {
			envs = r.deps.Env.ActualValues(rec.RepositoryID)
			for k, v := range req.Environment {
				envs[k] = v
			}
		}
	}
	rec, err := r.deps.Scripts.Execute(c.Request.Context(), id, script.ExecuteInput{
		Arguments:   req.Arguments,
		Environment: envs,
	})
	if err != nil {
		fail(c, http.StatusBadRequest, scriptErrorText(err))
		return
	}
	ok(c, http.StatusOK, rec)
}

func (r *Router) stopScript(c *gin.Context) {
	if !r.deps.Scripts.Stop(c.Param("id")) {
		fail(c, http.StatusBadRequest, "Script is not running or not found")
		return
	}
	writeJSON(c, http.StatusOK, envelope{Success: true})
}

func (r *Router) scriptOutput(c *gin.Context) {
	ok(c, http.StatusOK, r.deps.Scripts.Output(c.Param("id")))
}
