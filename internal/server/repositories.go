package server

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/devdash/internal/repository"
	"github.com/loykin/devdash/internal/validation"
)

func (r *Router) listRepositories(c *gin.Context) {
	page, limit, err := pageQuery(c)
	if err != nil {
		failValidation(c, err)
		return
	}
	q := repository.Query{
		Search:         c.Query("search"),
		Type:           c.Query("type"),
		PackageManager: c.Query("packageManager"),
		Page:           page,
		Limit:          limit,
	}
	vr := validation.New(errInvalidQuery)
	if q.Type != "" && !slices.Contains(repository.Types, q.Type) {
		vr.Add("type", "must be one of "+strings.Join(repository.Types, ", "))
	}
	if q.PackageManager != "" && !slices.Contains(repository.PackageManagers, q.PackageManager) {
		vr.Add("packageManager", "must be one of "+strings.Join(repository.PackageManagers, ", "))
	}
	if err := vr.Err(); err != nil {
		failValidation(c, err)
		return
	}
	repos, total := r.deps.Repositories.List(q)
	writeJSON(c, http.StatusOK, envelope{
		Success:    true,
		Data:       repos,
		Pagination: newPagination(page, limit, total),
	})
}

func (r *Router) getRepository(c *gin.Context) {
	repo, err := r.deps.Repositories.Get(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, "Repository not found")
		return
	}
	ok(c, http.StatusOK, repo)
}

func (r *Router) createRepository(c *gin.Context) {
	var in repository.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		failValidation(c, err)
		return
	}
	repo, err := r.deps.Repositories.Create(in)
	if err != nil {
		if errors.Is(err, repository.ErrValidation) {
			failValidation(c, err)
			return
		}
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ok(c, http.StatusCreated, repo)
}

func (r *Router) updateRepository(c *gin.Context) {
	var in repository.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		failValidation(c, err)
		return
	}
	repo, err := r.deps.Repositories.Update(c.Param("id"), in)
	switch {
	case err == nil:
		ok(c, http.StatusOK, repo)
	case errors.Is(err, repository.ErrNotFound):
		fail(c, http.StatusNotFound, "Repository not found")
	case errors.Is(err, repository.ErrValidation):
		failValidation(c, err)
	default:
		fail(c, http.StatusBadRequest, err.Error())
	}
}

func (r *Router) deleteRepository(c *gin.Context) {
	if err := r.deps.Repositories.Delete(c.Param("id")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			fail(c, http.StatusNotFound, "Repository not found")
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, envelope{Success: true})
}

func (r *Router) accessRepository(c *gin.Context) {
	r.deps.Repositories.Touch(c.Param("id"))
	writeJSON(c, http.StatusOK, envelope{Success: true})
}

// importRepositoryScripts turns the repository's package.json scripts into
// script records run through its package manager.
func (r *Router) importRepositoryScripts(c *gin.Context) {
	id := c.Param("id")
	repo, err := r.deps.Repositories.Get(id)
	if err != nil {
		fail(c, http.StatusNotFound, "Repository not found")
		return
	}
	scripts, err := r.deps.Repositories.Scripts(id)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	created := r.deps.Scripts.ImportPackageScripts(id, repo.PackageManager, scripts)
	writeJSON(c, http.StatusOK, envelope{
		Success: true,
		Data:    created,
		Message: fmt.Sprintf("Imported %d scripts", len(created)),
	})
}
