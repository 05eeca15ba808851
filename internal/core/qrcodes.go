package core

import (
	"context"
	"fmt"
	"strings"

	"vivarium/pkg/domain"
)

// MaxBlankBatch bounds GenerateBlankQRCodes.
const MaxBlankBatch = 20

const qrPlaceholder = "pending"

// QRCodeInput is the payload for registering an externally printed code.
type QRCodeInput struct {
	QRData  string `json:"qr_data"`
	IsBlank bool   `json:"is_blank"`
}

// QRResolution is a scanned code and the cage it is bound to, if any.
type QRResolution struct {
	QRCode QRCode    `json:"qr_code"`
	Cage   *CageView `json:"cage,omitempty"`
}

// QRData returns the payload encoded into a generated code for id.
func (s *Service) QRData(id string) string {
	return strings.TrimRight(s.publicBaseURL, "/") + "/qr/" + id
}

// ListQRCodes returns active QR codes in the actor's scope.
func (s *Service) ListQRCodes(ctx context.Context, actor User) ([]QRCode, error) {
	return listRecords(ctx, s, qrCodeTable, actor)
}

// GetQRCode returns an active QR code.
func (s *Service) GetQRCode(ctx context.Context, actor User, id string) (QRCode, error) {
	return getRecord(ctx, s, qrCodeTable, actor, id)
}

// CreateQRCode registers an unclaimed code with caller-supplied data.
func (s *Service) CreateQRCode(ctx context.Context, actor User, in QRCodeInput) (QRCode, error) {
	return createRecord(ctx, s, qrCodeTable, actor, func(tx Transaction, scope Scope) (QRCode, error) {
		var v domain.Validator
		v.Check(strings.TrimSpace(in.QRData) != "", "qr_data", "required")
		if err := v.Err(); err != nil {
			return QRCode{}, err
		}
		company, err := inventoryOwner(tx.Snapshot(), scope, actor)
		if err != nil {
			return QRCode{}, err
		}
		return tx.CreateQRCode(QRCode{
			Tenancy: domain.Tenancy{CompanyID: company},
			QRData:  strings.TrimSpace(in.QRData),
			IsBlank: in.IsBlank,
		})
	})
}

// UpdateQRCode applies a patch to an active QR code. Claim state cannot be
// patched.
func (s *Service) UpdateQRCode(ctx context.Context, actor User, id string, patch domain.QRCodePatch) (QRCode, error) {
	return updateRecord(ctx, s, qrCodeTable, "update_qr_codes", actor, id, func(_ TransactionView, _ Scope, q *QRCode) error {
		patch.Apply(q)
		return nil
	})
}

// ClaimQRCode binds an unclaimed code to a cage of the same company. The
// check and the three-field write happen in one transaction, so of two
// concurrent claims exactly one wins and the other fails with
// domain.ErrAlreadyClaimed.
func (s *Service) ClaimQRCode(ctx context.Context, actor User, id, cageID string) (QRCode, error) {
	var out QRCode
	err := s.run(ctx, "claim_qr_codes", func(ctx context.Context) error {
		scope, err := actorScope(actor, PermWrite, EntityQRCode)
		if err != nil {
			return err
		}
		if strings.TrimSpace(cageID) == "" {
			return domain.ValidationError{Fields: []domain.FieldError{{Field: "cage_id", Message: "required"}}}
		}
		now := s.clock.Now()
		if _, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			code, err := qrCodeTable.active(view, scope, id)
			if err != nil {
				return err
			}
			target, err := cageTable.active(view, scope, cageID)
			if err != nil {
				return err
			}
			if !sameCompany(target.CompanyID, code.CompanyID) {
				return notFound(EntityCage, cageID)
			}
			out, err = tx.UpdateQRCode(id, func(q *QRCode) error {
				if q.Claimed() {
					return fmt.Errorf("qr code %s: %w", id, domain.ErrAlreadyClaimed)
				}
				cage, by, at := cageID, actor.ID, now
				q.CageID, q.ClaimedBy, q.ClaimedAt = &cage, &by, &at
				return nil
			})
			return err
		}); err != nil {
			return err
		}
		s.recordAudit(ctx, auditRecord{
			actorID:  actor.ID,
			company:  out.CompanyID,
			action:   domain.AuditClaimQR,
			table:    EntityQRCode,
			recordID: id,
			changes:  map[string]any{"cage_id": out.CageID, "claimed_at": out.ClaimedAt, "claimed_by": out.ClaimedBy},
		})
		return nil
	})
	return out, err
}

// GenerateBlankQRCodes creates count blank codes whose data embeds their own
// id. Each code is inserted with a placeholder and rewritten in a single
// transaction; a failure stops the loop and returns the codes created so far.
func (s *Service) GenerateBlankQRCodes(ctx context.Context, actor User, count int) ([]QRCode, error) {
	var created []QRCode
	err := s.run(ctx, "generate_blank_qr_codes", func(ctx context.Context) error {
		scope, err := actorScope(actor, PermWrite, EntityQRCode)
		if err != nil {
			return err
		}
		if count < 1 || count > MaxBlankBatch {
			return domain.ValidationError{Fields: []domain.FieldError{{Field: "count", Message: fmt.Sprintf("must be between 1 and %d", MaxBlankBatch)}}}
		}
		created = make([]QRCode, 0, count)
		var company *string
		if err := s.store.View(ctx, func(view TransactionView) error {
			company, err = inventoryOwner(view, scope, actor)
			return err
		}); err != nil {
			return err
		}
		for i := 0; i < count; i++ {
			var code QRCode
			if _, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
				placeholder, err := tx.CreateQRCode(QRCode{
					Tenancy: domain.Tenancy{CompanyID: company},
					QRData:  qrPlaceholder,
					IsBlank: true,
				})
				if err != nil {
					return err
				}
				code, err = tx.UpdateQRCode(placeholder.ID, func(q *QRCode) error {
					q.QRData = s.QRData(q.ID)
					return nil
				})
				if err != nil {
					return err
				}
				if !strings.Contains(code.QRData, code.ID) {
					return fmt.Errorf("qr code %s: data %q does not embed id", code.ID, code.QRData)
				}
				return nil
			}); err != nil {
				return fmt.Errorf("generate blank qr code %d of %d: %w", i+1, count, err)
			}
			created = append(created, code)
			s.recordAudit(ctx, auditRecord{
				actorID:  actor.ID,
				company:  code.CompanyID,
				action:   domain.AuditGenerateBlankQR,
				table:    EntityQRCode,
				recordID: code.ID,
				changes:  changeSet{After: code},
			})
		}
		return nil
	})
	return created, err
}

// ResolveQRCode returns an active code and, when claimed, its cage. A cage
// that is gone or deleted is reported as absent.
func (s *Service) ResolveQRCode(ctx context.Context, actor User, id string) (QRResolution, error) {
	var out QRResolution
	err := s.run(ctx, "resolve_qr_codes", func(ctx context.Context) error {
		scope, err := actorScope(actor, PermRead, EntityQRCode)
		if err != nil {
			return err
		}
		return s.store.View(ctx, func(view TransactionView) error {
			q, err := qrCodeTable.active(view, scope, id)
			if err != nil {
				return err
			}
			out.QRCode = q
			if q.CageID == nil {
				return nil
			}
			if c, err := cageTable.active(view, scope, *q.CageID); err == nil {
				cv := cageView(view, scope, c, occupancy(view))
				out.Cage = &cv
			}
			return nil
		})
	})
	return out, err
}

// DeleteQRCode soft deletes a QR code.
func (s *Service) DeleteQRCode(ctx context.Context, actor User, id string) (QRCode, error) {
	return softDeleteRecord(ctx, s, qrCodeTable, actor, id)
}

// RestoreQRCode returns a soft-deleted QR code to the active list.
func (s *Service) RestoreQRCode(ctx context.Context, actor User, id string) (QRCode, error) {
	return restoreRecord(ctx, s, qrCodeTable, actor, id)
}

// PurgeQRCode permanently removes a soft-deleted QR code. Admin only.
func (s *Service) PurgeQRCode(ctx context.Context, actor User, id string) error {
	return purgeRecord(ctx, s, qrCodeTable, actor, id)
}

// PurgeQRCodes permanently removes each soft-deleted QR code in ids.
func (s *Service) PurgeQRCodes(ctx context.Context, actor User, ids []string) (BatchResult, error) {
	return batchPurge(ctx, s, qrCodeTable, actor, ids)
}

// QRCodeTrash lists soft-deleted QR codes.
func (s *Service) QRCodeTrash(ctx context.Context, actor User) ([]TrashEntry[QRCode], error) {
	return listTrash(ctx, s, qrCodeTable, actor)
}
