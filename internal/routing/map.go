/*
Copyright 2024 Nullroute Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package routing

import (
	"context"
	"errors"
	"time"

	"github.com/nullroute/nullroute/internal/apierror"
	"github.com/nullroute/nullroute/internal/cache"
	"github.com/sirupsen/logrus"
)

// ErrRouteConflict is returned when an internal reference is already mapped to a different
// external reference.
var ErrRouteConflict = errors.New("routing: internal reference already mapped to a different external reference")

const cacheTTL = 24 * time.Hour

// Store is the durable side of the map.
type Store interface {
	InsertRoute(ctx context.Context, internalRef, externalRef string) (bool, error)
	GetRoute(ctx context.Context, internalRef string) (string, error)
}

// Map associates application transfer ids with exchange ids. Entries are write-once.
type Map struct {
	store Store
	cache cache.Cache
}

// New returns a map over store. c may be nil, in which case every lookup goes to the store.
func New(store Store, c cache.Cache) *Map {
	return &Map{store: store, cache: c}
}

func cacheKey(internalRef string) string {
	return "nullroute:route:" + internalRef
}

// Store records internalRef -> externalRef. Storing the same pair again is a no-op.
func (m *Map) Store(ctx context.Context, internalRef, externalRef string) error {
	if internalRef == "" || externalRef == "" {
		return apierror.NewAPIError(apierror.ErrValidation, "route references must not be empty", nil)
	}

	inserted, err := m.store.InsertRoute(ctx, internalRef, externalRef)
	if err != nil {
		return persistenceError("failed to store route", err)
	}

	if !inserted {
		existing, err := m.store.GetRoute(ctx, internalRef)
		if err != nil {
			return persistenceError("failed to read existing route", err)
		}
		if existing != externalRef {
			return apierror.NewAPIError(apierror.ErrConflict, ErrRouteConflict.Error(), ErrRouteConflict)
		}
	}

	m.cacheSet(ctx, internalRef, externalRef)
	return nil
}

// Lookup returns the external reference for internalRef. An unknown ref is reported with
// found=false and a nil error.
func (m *Map) Lookup(ctx context.Context, internalRef string) (string, bool, error) {
	if internalRef == "" {
		return "", false, nil
	}

	if m.cache != nil {
		var ext string
		err := m.cache.Get(ctx, cacheKey(internalRef), &ext)
		if err == nil && ext != "" {
			return ext, true, nil
		}
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			logrus.WithField("internal_ref", internalRef).WithError(err).Warn("route cache read failed")
		}
	}

	ext, err := m.store.GetRoute(ctx, internalRef)
	if err != nil {
		if apierror.IsCode(err, apierror.ErrNotFound) {
			return "", false, nil
		}
		return "", false, persistenceError("failed to look up route", err)
	}

	m.cacheSet(ctx, internalRef, ext)
	return ext, true, nil
}

func (m *Map) cacheSet(ctx context.Context, internalRef, externalRef string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Set(ctx, cacheKey(internalRef), externalRef, cacheTTL); err != nil {
		logrus.WithField("internal_ref", internalRef).WithError(err).Warn("route cache write failed")
	}
}

func persistenceError(msg string, err error) error {
	if apierror.IsCode(err, apierror.ErrPersistence) {
		return err
	}
	return apierror.NewAPIError(apierror.ErrPersistence, msg, err)
}
