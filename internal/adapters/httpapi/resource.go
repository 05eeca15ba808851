package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vivarium/internal/core"
	"vivarium/pkg/domain"
)

// resource binds the uniform lifecycle routes of one entity to service
// methods. V is the read model, R the stored record, C the create payload
// and P the update patch.
type resource[V, R, C, P any] struct {
	entity    domain.EntityType
	list      func(context.Context, core.User) ([]V, error)
	get       func(context.Context, core.User, string) (V, error)
	create    func(context.Context, core.User, C) (R, error)
	update    func(context.Context, core.User, string, P) (R, error)
	remove    func(context.Context, core.User, string) (R, error)
	restore   func(context.Context, core.User, string) (R, error)
	purge     func(context.Context, core.User, string) error
	purgeMany func(context.Context, core.User, []string) (core.BatchResult, error)
	trash     func(context.Context, core.User) ([]core.TrashEntry[R], error)

	// changed is called with the id of every mutated record.
	changed func(id string)
}

type listBody[T any] struct {
	Items []T `json:"items"`
}

type batchRequest struct {
	IDs []string `json:"ids"`
}

func newList[T any](items []T) listBody[T] {
	if items == nil {
		items = []T{}
	}
	return listBody[T]{Items: items}
}

// mount registers the resource routes on r. collection and item add entity
// specific routes below path and below path/{id}.
func (res resource[V, R, C, P]) mount(s *Server, r chi.Router, path string, collection, item func(chi.Router)) {
	r.Route(path, func(r chi.Router) {
		r.Get("/", s.handle(func(w http.ResponseWriter, r *http.Request, actor core.User) error {
			items, err := res.list(r.Context(), actor)
			if err != nil {
				return err
			}
			writeJSON(w, http.StatusOK, newList(items))
			return nil
		}))
		r.Post("/", s.handle(func(w http.ResponseWriter, r *http.Request, actor core.User) error {
			var in C
			if err := decodeJSON(w, r, &in); err != nil {
				return err
			}
			actor, err := actingIn(r, actor)
			if err != nil {
				return err
			}
			out, err := res.create(r.Context(), actor, in)
			if err != nil {
				return err
			}
			writeJSON(w, http.StatusCreated, out)
			return nil
		}))
		r.Get("/trash", s.handle(func(w http.ResponseWriter, r *http.Request, actor core.User) error {
			items, err := res.trash(r.Context(), actor)
			if err != nil {
				return err
			}
			writeJSON(w, http.StatusOK, newList(items))
			return nil
		}))
		r.Post("/batch-delete", s.handle(func(w http.ResponseWriter, r *http.Request, actor core.User) error {
			var in batchRequest
			if err := decodeJSON(w, r, &in); err != nil {
				return err
			}
			out, err := res.purgeMany(r.Context(), actor, in.IDs)
			if err != nil {
				return err
			}
			for _, id := range out.Success {
				res.notify(id)
			}
			writeJSON(w, http.StatusOK, out)
			return nil
		}))
		if collection != nil {
			collection(r)
		}
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handle(func(w http.ResponseWriter, r *http.Request, actor core.User) error {
				out, err := res.get(r.Context(), actor, chi.URLParam(r, "id"))
				if err != nil {
					return err
				}
				writeJSON(w, http.StatusOK, out)
				return nil
			}))
			r.Patch("/", s.handle(func(w http.ResponseWriter, r *http.Request, actor core.User) error {
				var patch P
				if err := decodeJSON(w, r, &patch); err != nil {
					return err
				}
				id := chi.URLParam(r, "id")
				out, err := res.update(r.Context(), actor, id, patch)
				if err != nil {
					return err
				}
				res.notify(id)
				writeJSON(w, http.StatusOK, out)
				return nil
			}))
			r.Delete("/", s.handle(func(w http.ResponseWriter, r *http.Request, actor core.User) error {
				id := chi.URLParam(r, "id")
				out, err := res.remove(r.Context(), actor, id)
				if err != nil {
					return err
				}
				res.notify(id)
				writeJSON(w, http.StatusOK, out)
				return nil
			}))
			r.Post("/restore", s.handle(func(w http.ResponseWriter, r *http.Request, actor core.User) error {
				id := chi.URLParam(r, "id")
				out, err := res.restore(r.Context(), actor, id)
				if err != nil {
					return err
				}
				res.notify(id)
				writeJSON(w, http.StatusOK, out)
				return nil
			}))
			r.Delete("/permanent", s.handle(func(w http.ResponseWriter, r *http.Request, actor core.User) error {
				id := chi.URLParam(r, "id")
				if err := res.purge(r.Context(), actor, id); err != nil {
					return err
				}
				res.notify(id)
				w.WriteHeader(http.StatusNoContent)
				return nil
			}))
			r.Get("/history", s.handle(func(w http.ResponseWriter, r *http.Request, actor core.User) error {
				rows, err := s.svc.History(r.Context(), actor, res.entity, chi.URLParam(r, "id"))
				if err != nil {
					return err
				}
				writeJSON(w, http.StatusOK, newList(rows))
				return nil
			}))
			if item != nil {
				item(r)
			}
		})
	})
}

func (res resource[V, R, C, P]) notify(id string) {
	if res.changed != nil {
		res.changed(id)
	}
}
