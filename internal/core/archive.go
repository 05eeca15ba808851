package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path"
	"strings"
	"time"

	"vivarium/internal/blob"
)

const archivePrefix = "purged/"

// Tombstone is the archived copy of a permanently deleted record.
type Tombstone struct {
	Entity   EntityType      `json:"entity"`
	ID       string          `json:"id"`
	PurgedAt time.Time       `json:"purged_at"`
	PurgedBy string          `json:"purged_by"`
	Record   json.RawMessage `json:"record"`
}

// ArchiveKey returns the blob key holding the tombstone of entity/id.
func ArchiveKey(entity EntityType, id string) string {
	return path.Join(archivePrefix+string(entity), id+".json")
}

// archiveTombstone writes a tombstone when an archive is configured. Like
// audit writes, failures are logged and never surfaced.
func (s *Service) archiveTombstone(ctx context.Context, entity EntityType, id, actorID string, rec any) {
	if s.archive == nil {
		return
	}
	raw, err := json.Marshal(rec)
	if err == nil {
		raw, err = json.Marshal(Tombstone{
			Entity:   entity,
			ID:       id,
			PurgedAt: s.clock.Now(),
			PurgedBy: actorID,
			Record:   raw,
		})
	}
	if err != nil {
		s.logger.Error("archive encode failed", "entity", string(entity), "id", id, "error", err)
		return
	}
	key := ArchiveKey(entity, id)
	_, err = s.archive.Put(context.WithoutCancel(ctx), key, bytes.NewReader(raw), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"entity": string(entity), "purged-by": actorID},
	})
	if err != nil {
		s.logger.Warn("archive write failed", "key", key, "error", err)
	}
}

// ListArchive lists archived tombstones under entity, or all of them when
// entity is empty. Admin only. URLs are presigned where the backend supports it.
func (s *Service) ListArchive(ctx context.Context, actor User, entity EntityType) ([]blob.Info, error) {
	var out []blob.Info
	err := s.run(ctx, "list_archive", func(ctx context.Context) error {
		if err := Authorize(actor, PermArchiveRead, EntityAuditLog); err != nil {
			return err
		}
		if s.archive == nil {
			out = []blob.Info{}
			return nil
		}
		prefix := archivePrefix
		if entity != "" {
			prefix += string(entity) + "/"
		}
		infos, err := s.archive.List(ctx, prefix)
		if err != nil {
			return err
		}
		for i := range infos {
			url, err := s.archive.PresignURL(ctx, infos[i].Key, blob.SignedURLOptions{Expiry: 15 * time.Minute})
			switch {
			case err == nil:
				infos[i].URL = url
			case errors.Is(err, blob.ErrUnsupported):
			default:
				s.logger.Warn("archive presign failed", "key", infos[i].Key, "error", err)
			}
		}
		out = infos
		return nil
	})
	return out, err
}

// ReadTombstone loads one archived tombstone. Admin only.
func (s *Service) ReadTombstone(ctx context.Context, actor User, entity EntityType, id string) (Tombstone, error) {
	var out Tombstone
	err := s.run(ctx, "read_tombstone", func(ctx context.Context) error {
		if err := Authorize(actor, PermArchiveRead, EntityAuditLog); err != nil {
			return err
		}
		if s.archive == nil {
			return notFound(entity, id)
		}
		if id == "" || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
			return notFound(entity, id)
		}
		_, rc, err := s.archive.Get(ctx, ArchiveKey(entity, id))
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidKey) {
			return notFound(entity, id)
		}
		if err != nil {
			return err
		}
		defer rc.Close()
		return json.NewDecoder(rc).Decode(&out)
	})
	return out, err
}
