package nfse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfse-gateway/internal/domain"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	domainnfse "github.com/jhoicas/nfse-gateway/internal/domain/nfse"
	"github.com/jhoicas/nfse-gateway/internal/domain/repository"
	"github.com/jhoicas/nfse-gateway/pkg/logger"
)

// IssueRequest datos de un borrador. IssAmount y NetAmount se calculan si vienen nulos.
type IssueRequest struct {
	BusinessID                    string
	CityConfigurationID           string // ID o, en su defecto, CityIBGECode
	CityIBGECode                  string
	RpsNumber                     string
	RpsSeries                     string
	RpsType                       string
	ServiceItemCode               string
	MunicipalTaxCode              string
	Description                   string
	ProviderCnpj                  string
	ProviderMunicipalRegistration string
	TakerDocument                 string
	TakerName                     string
	ServiceAmount                 decimal.Decimal
	Deductions                    *decimal.Decimal
	IssRate                       decimal.Decimal
	IssAmount                     *decimal.Decimal
	IssWithheld                   bool
	IssueDate                     *time.Time
}

// correctionLockTTL la corrección es una sola escritura; no necesita heartbeat.
const correctionLockTTL = 30 * time.Second

// IssueUseCase crea borradores (DRAFT), idempotente por identidad RPS.
type IssueUseCase struct {
	docs   repository.NfseRepository
	cities repository.CityConfigurationRepository
	events repository.NfseEventRepository
	locker Locker
	log    *logger.Logger
	now    func() time.Time
}

// NewIssueUseCase construye el caso de uso. locker es el mismo del LifecycleCoordinator:
// corregir un documento existente exige el candado de su identidad RPS.
func NewIssueUseCase(
	docs repository.NfseRepository,
	cities repository.CityConfigurationRepository,
	events repository.NfseEventRepository,
	locker Locker,
	log *logger.Logger,
) *IssueUseCase {
	if log == nil {
		log = logger.Nop()
	}
	return &IssueUseCase{docs: docs, cities: cities, events: events, locker: locker, log: log, now: time.Now}
}

// Issue crea el borrador. Si la identidad RPS ya existe:
//   - en DRAFT, ERROR o REJECTED se corrige en sitio con los nuevos datos;
//   - en cualquier otro estado se devuelve tal cual, sin duplicar.
//
// El segundo valor informa si el documento fue creado en esta llamada.
func (uc *IssueUseCase) Issue(ctx context.Context, in IssueRequest) (*entity.Nfse, bool, error) {
	in.RpsNumber = strings.TrimSpace(in.RpsNumber)
	in.RpsSeries = strings.TrimSpace(in.RpsSeries)
	if in.BusinessID == "" || in.RpsNumber == "" || in.RpsSeries == "" {
		return nil, false, fmt.Errorf("%w: empresa, número y serie de RPS son obligatorios", domain.ErrValidation)
	}
	city, err := uc.resolveCity(ctx, in)
	if err != nil {
		return nil, false, err
	}

	now := uc.now()
	doc := uc.buildDraft(in, city, now)
	if err := domainnfse.ValidateForTransmission(doc); err != nil {
		return nil, false, err
	}
	if in.IssAmount != nil {
		expected := domainnfse.ComputeIssAmount(doc.BaseCalculation, doc.IssRate)
		if !in.IssAmount.Equal(expected) {
			return nil, false, fmt.Errorf("%w: valor ISS %s no corresponde a base × alícuota (%s)",
				domain.ErrValidation, in.IssAmount.StringFixed(2), expected.StringFixed(2))
		}
	}

	existing, err := uc.docs.FindByRpsNumber(ctx, in.BusinessID, in.RpsNumber, in.RpsSeries)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return uc.correct(ctx, existing, doc, now)
	}

	if err := uc.docs.Create(ctx, doc); err != nil {
		if !errors.Is(err, domain.ErrDuplicate) {
			return nil, false, err
		}
		// Carrera con otro emisor del mismo RPS: gana el primer insert.
		existing, ferr := uc.docs.FindByRpsNumber(ctx, in.BusinessID, in.RpsNumber, in.RpsSeries)
		if ferr != nil {
			return nil, false, ferr
		}
		if existing == nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err := uc.events.Append(ctx, &entity.NfseEvent{
		ID:         uuid.New().String(),
		NfseID:     doc.ID,
		ToStatus:   entity.NfseStatusDraft,
		Trigger:    entity.TriggerIssue,
		Detail:     "RPS " + doc.RpsNumber + "/" + doc.RpsSeries,
		OccurredAt: now,
	}); err != nil {
		return doc, true, fmt.Errorf("nfse: registrar emisión: %w", err)
	}
	uc.log.Info().Str("nfse_id", doc.ID).Str("rps", doc.RpsKey()).Msg("borrador creado")
	return doc, true, nil
}

// Get devuelve un documento por ID.
func (uc *IssueUseCase) Get(ctx context.Context, id string) (*entity.Nfse, error) {
	doc, err := uc.docs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("nfse %s: %w", id, domain.ErrNotFound)
	}
	return doc, nil
}

// List documentos filtrados (empresa, estado, paginación).
func (uc *IssueUseCase) List(ctx context.Context, filter repository.NfseFilter) ([]*entity.Nfse, error) {
	return uc.docs.FindMany(ctx, filter)
}

// History bitácora de transiciones de un documento.
func (uc *IssueUseCase) History(ctx context.Context, id string) ([]*entity.NfseEvent, error) {
	if _, err := uc.Get(ctx, id); err != nil {
		return nil, err
	}
	return uc.events.ListByNfse(ctx, id)
}

func (uc *IssueUseCase) resolveCity(ctx context.Context, in IssueRequest) (*entity.CityConfiguration, error) {
	var (
		city *entity.CityConfiguration
		err  error
	)
	switch {
	case in.CityConfigurationID != "":
		city, err = uc.cities.FindByID(ctx, in.CityConfigurationID)
	case in.CityIBGECode != "":
		city, err = uc.cities.FindByIBGECode(ctx, in.CityIBGECode)
	default:
		return nil, fmt.Errorf("%w: municipio obligatorio", domain.ErrValidation)
	}
	if err != nil {
		return nil, err
	}
	if city == nil {
		return nil, fmt.Errorf("municipio: %w", domain.ErrNotFound)
	}
	if !city.IsActive {
		return nil, fmt.Errorf("%w: municipio %s inactivo", domain.ErrValidation, city.IBGECode)
	}
	return city, nil
}

// buildDraft arma el documento con valores derivados: base = servicio − deducciones,
// ISS = base × alícuota, líquido = servicio − ISS retenido.
func (uc *IssueUseCase) buildDraft(in IssueRequest, city *entity.CityConfiguration, now time.Time) *entity.Nfse {
	base := in.ServiceAmount
	if in.Deductions != nil {
		base = base.Sub(*in.Deductions)
	}
	iss := domainnfse.ComputeIssAmount(base, in.IssRate)
	net := in.ServiceAmount
	if in.IssWithheld {
		net = net.Sub(iss)
	}
	rpsType := in.RpsType
	if rpsType == "" {
		rpsType = entity.DefaultRpsType
	}
	issueDate := now
	if in.IssueDate != nil {
		issueDate = *in.IssueDate
	}
	return &entity.Nfse{
		ID:                            uuid.New().String(),
		BusinessID:                    in.BusinessID,
		CityConfigurationID:           city.ID,
		RpsNumber:                     in.RpsNumber,
		RpsSeries:                     in.RpsSeries,
		RpsType:                       rpsType,
		ServiceItemCode:               strings.TrimSpace(in.ServiceItemCode),
		MunicipalTaxCode:              strings.TrimSpace(in.MunicipalTaxCode),
		Description:                   strings.TrimSpace(in.Description),
		ProviderCnpj:                  in.ProviderCnpj,
		ProviderMunicipalRegistration: in.ProviderMunicipalRegistration,
		TakerDocument:                 in.TakerDocument,
		TakerName:                     strings.TrimSpace(in.TakerName),
		ServiceAmount:                 in.ServiceAmount,
		BaseCalculation:               base,
		IssRate:                       in.IssRate,
		IssAmount:                     iss,
		Deductions:                    in.Deductions,
		NetAmount:                     net,
		IssWithheld:                   in.IssWithheld,
		Status:                        entity.NfseStatusDraft,
		IssueDate:                     issueDate,
		ErrorList:                     []entity.NfseMessage{},
		WarningList:                   []entity.NfseMessage{},
		CreatedAt:                     now,
		UpdatedAt:                     now,
	}
}

// correct reescribe los datos corregibles de un documento reenviable bajo el candado
// del documento. La identidad y el historial (errores, XML) se conservan hasta el
// próximo envío. Con el candado tomado por otro worker devuelve ErrConcurrentOperation.
func (uc *IssueUseCase) correct(ctx context.Context, existing, draft *entity.Nfse, now time.Time) (*entity.Nfse, bool, error) {
	if !domainnfse.CanSubmit(existing.Status) {
		return existing, false, nil
	}
	key := LockKey(existing)
	token, err := uc.locker.Acquire(ctx, key, correctionLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentOperation) {
			return existing, false, err
		}
		return existing, false, fmt.Errorf("nfse: tomar candado %s: %w", key, err)
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := uc.locker.Release(rctx, key, token); err != nil {
			uc.log.Warn().Err(err).Str("lock", key).Msg("no se pudo liberar el candado")
		}
	}()

	// Releer bajo el candado: un envío pudo empezar y terminar entre la lectura y la toma.
	current, err := uc.docs.FindByID(ctx, existing.ID)
	if err != nil {
		return existing, false, err
	}
	if current == nil {
		return nil, false, fmt.Errorf("nfse %s: %w", existing.ID, domain.ErrNotFound)
	}
	if !domainnfse.CanSubmit(current.Status) {
		return current, false, nil
	}

	current.CityConfigurationID = draft.CityConfigurationID
	current.RpsType = draft.RpsType
	current.ServiceItemCode = draft.ServiceItemCode
	current.MunicipalTaxCode = draft.MunicipalTaxCode
	current.Description = draft.Description
	current.ProviderCnpj = draft.ProviderCnpj
	current.ProviderMunicipalRegistration = draft.ProviderMunicipalRegistration
	current.TakerDocument = draft.TakerDocument
	current.TakerName = draft.TakerName
	current.ServiceAmount = draft.ServiceAmount
	current.BaseCalculation = draft.BaseCalculation
	current.IssRate = draft.IssRate
	current.IssAmount = draft.IssAmount
	current.Deductions = draft.Deductions
	current.NetAmount = draft.NetAmount
	current.IssWithheld = draft.IssWithheld
	current.IssueDate = draft.IssueDate
	current.UpdatedAt = now
	if err := uc.docs.Save(ctx, current); err != nil {
		return current, false, fmt.Errorf("nfse: corregir borrador: %w", err)
	}
	uc.log.Info().Str("nfse_id", current.ID).Str("status", current.Status).Msg("documento corregido")
	return current, false, nil
}
