package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/loykin/devdash/internal/envvar"
	"github.com/loykin/devdash/internal/validation"
)

func (r *Router) listEnv(c *gin.Context) {
	page, limit, err := pageQuery(c)
	vr := validation.New(errInvalidQuery)
	if err != nil {
		var ve *validation.Error
		if errors.As(err, &ve) {
			vr.Fields = append(vr.Fields, ve.Fields...)
		}
	}
	mask := true
	if s, set := c.GetQuery("maskSecrets"); set {
		b, perr := strconv.ParseBool(s)
		if perr != nil {
			vr.Add("maskSecrets", "must be a boolean")
		}
		mask = b
	}
	if err := vr.Err(); err != nil {
		failValidation(c, err)
		return
	}

	vars := r.deps.Env.List(c.Query("repositoryId"))
	if mask {
		vars = envvar.Mask(vars)
	}
	writeJSON(c, http.StatusOK, envelope{
		Success:    true,
		Data:       paginate(vars, page, limit),
		Pagination: newPagination(page, limit, len(vars)),
	})
}

// getEnv masks a secret unless maskSecrets=false.
func (r *Router) getEnv(c *gin.Context) {
	v, err := r.deps.Env.Get(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, "Environment variable not found")
		return
	}
	if c.Query("maskSecrets") != "false" {
		v = envvar.Mask([]envvar.Variable{v})[0]
	}
	ok(c, http.StatusOK, v)
}

func (r *Router) createEnv(c *gin.Context) {
	var in envvar.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		failValidation(c, err)
		return
	}
	v, err := r.deps.Env.Create(in)
	if err != nil {
		if errors.Is(err, envvar.ErrValidation) {
			failValidation(c, err)
			return
		}
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ok(c, http.StatusCreated, v)
}

func (r *Router) updateEnv(c *gin.Context) {
	var in envvar.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		failValidation(c, err)
		return
	}
	v, err := r.deps.Env.Update(c.Param("id"), in)
	switch {
	case err == nil:
		ok(c, http.StatusOK, v)
	case errors.Is(err, envvar.ErrNotFound):
		fail(c, http.StatusNotFound, "Environment variable not found")
	case errors.Is(err, envvar.ErrValidation):
		failValidation(c, err)
	default:
		fail(c, http.StatusBadRequest, err.Error())
	}
}

func (r *Router) deleteEnv(c *gin.Context) {
	if err := r.deps.Env.Delete(c.Param("id")); err != nil {
		if errors.Is(err, envvar.ErrNotFound) {
			fail(c, http.StatusNotFound, "Environment variable not found")
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, envelope{Success: true})
}

func (r *Router) envFile(c *gin.Context) {
	content := r.deps.Env.GenerateFile(c.Param("repositoryId"))
	c.Header("Content-Disposition", `attachment; filename=".env"`)
	c.Data(http.StatusOK, "text/plain", []byte(content))
}

func (r *Router) importEnv(c *gin.Context) {
	var body struct {
		EnvContent any `json:"envContent"`
	}
	_ = c.ShouldBindJSON(&body)
	content, isString := body.EnvContent.(string)
	if !isString || content == "" {
		fail(c, http.StatusBadRequest, "envContent is required and must be a string")
		return
	}
	imported := r.deps.Env.Import(c.Param("repositoryId"), content)
	writeJSON(c, http.StatusOK, envelope{
		Success: true,
		Data:    imported,
		Message: fmt.Sprintf("Imported %d environment variables", len(imported)),
	})
}

func (r *Router) envValues(c *gin.Context) {
	var body struct {
		Keys []string `json:"keys"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Keys == nil {
		fail(c, http.StatusBadRequest, "keys must be an array of strings")
		return
	}
	ok(c, http.StatusOK, r.deps.Env.ValuesByKeys(c.Param("repositoryId"), body.Keys))
}
