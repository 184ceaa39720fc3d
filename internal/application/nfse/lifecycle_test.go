package nfse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-gateway/internal/domain"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	"github.com/jhoicas/nfse-gateway/internal/testutil"
)

// ──────────────────────────────────────────────────────────────────────────────
// Submit
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmit_Autorizada(t *testing.T) {
	env := authorizedEnv("12345", "ABC123")
	iss := decimal.RequireFromString("50.00")
	env.IssAmount = &iss
	client := &scriptedClient{transmit: always(env, nil)}
	h := newHarness(client, testutil.NewDraftNfse("n1", "1"))

	doc, err := h.coord.Submit(context.Background(), "n1")
	require.NoError(t, err)

	assert.Equal(t, entity.NfseStatusAuthorized, doc.Status)
	require.True(t, doc.IsAuthorizedIdentitySet())
	assert.Equal(t, "12345", *doc.NfseNumber)
	assert.Equal(t, "ABC123", *doc.VerificationCode)
	assert.Equal(t, "PROT-12345", *doc.Protocol)
	assert.Equal(t, "50.00", doc.IssAmount.StringFixed(2))
	assert.Empty(t, doc.ErrorList)

	stored := h.docs.get("n1")
	assert.Equal(t, entity.NfseStatusAuthorized, stored.Status)
	assert.Equal(t, []string{entity.NfseStatusQueued, entity.NfseStatusTransmitting, entity.NfseStatusAuthorized}, h.events.path("n1"))
	assert.Equal(t, int32(1), client.transmitCalls.Load())
	assert.Zero(t, h.locker.held(), "el candado se libera al terminar")
}

func TestSubmit_TimeoutsAgotadosTerminanEnError(t *testing.T) {
	client := &scriptedClient{transmit: timeout}
	h := newHarness(client, testutil.NewDraftNfse("n1", "1"))

	doc, err := h.coord.Submit(context.Background(), "n1")
	require.Error(t, err)

	assert.True(t, domain.IsRetryable(err))
	var te *domain.TransientError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, int32(3), client.transmitCalls.Load())
	assert.Equal(t, entity.NfseStatusError, doc.Status)
	assert.Len(t, doc.ErrorList, 3, "una entrada por intento fallido")
	assert.Nil(t, doc.NfseNumber)
	assert.Equal(t, entity.NfseStatusError, h.docs.get("n1").Status)
	assert.Zero(t, h.locker.held())
}

func TestSubmit_ConsultaEncuentraIntentoAnterior(t *testing.T) {
	client := &scriptedClient{
		transmit: timeout,
		query:    always(authorizedEnv("555", "XYZ"), nil),
	}
	h := newHarness(client, testutil.NewDraftNfse("n1", "1"))

	doc, err := h.coord.Submit(context.Background(), "n1")
	require.NoError(t, err)

	assert.Equal(t, entity.NfseStatusAuthorized, doc.Status)
	assert.Equal(t, "555", *doc.NfseNumber)
	assert.Equal(t, int32(1), client.transmitCalls.Load(), "no se reenvía un RPS ya registrado")
}

func TestSubmit_RechazadaYReenviada(t *testing.T) {
	rejectedEnv := &entity.ResponseEnvelope{
		Outcome:  entity.OutcomeRejected,
		Messages: []entity.NfseMessage{{Code: "E160", Message: "Alíquota inválida", Correction: "Informe 2% a 5%"}},
	}
	client := &scriptedClient{transmit: func(call int) (*entity.ResponseEnvelope, error) {
		if call == 1 {
			return rejectedEnv, nil
		}
		return authorizedEnv("900", "VER900"), nil
	}}
	h := newHarness(client, testutil.NewDraftNfse("n1", "1"))

	doc, err := h.coord.Submit(context.Background(), "n1")
	var re *domain.RejectedError
	require.True(t, errors.As(err, &re))
	assert.True(t, errors.Is(err, domain.ErrRejectedByAuthority))
	assert.Equal(t, "E160", re.Messages[0].Code)
	assert.Equal(t, entity.NfseStatusRejected, doc.Status)
	assert.Equal(t, int32(1), client.transmitCalls.Load(), "un rechazo no se reintenta")
	assert.Equal(t, rejectedEnv.Messages, doc.ErrorList)

	doc, err = h.coord.Submit(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, entity.NfseStatusAuthorized, doc.Status)
	assert.Equal(t, "1", doc.RpsNumber)
	assert.Empty(t, doc.ErrorList)
	assert.Equal(t, 1, h.docs.count(), "el reenvío reutiliza la misma identidad RPS")
}

func TestSubmit_LotePendienteNoSeReenvia(t *testing.T) {
	pending := &entity.ResponseEnvelope{
		Outcome:     entity.OutcomeTransientFailure,
		Pending:     true,
		Protocol:    "PROT-1",
		Messages:    []entity.NfseMessage{},
		OutboundXML: "<EnviarLoteRpsEnvio/>",
	}
	stillProcessing := func(int) (*entity.ResponseEnvelope, error) {
		return &entity.ResponseEnvelope{
			Outcome:  entity.OutcomeTransientFailure,
			Pending:  true,
			Messages: []entity.NfseMessage{{Code: "E4", Message: "Esse RPS ainda não foi processado"}},
		}, domain.NewTransientError("query", errors.New("lote en procesamiento"))
	}
	client := &scriptedClient{
		transmit: always(pending, domain.NewTransientError("transmit", errors.New("lote PROT-1 en procesamiento"))),
		query:    stillProcessing,
	}
	h := newHarness(client, testutil.NewDraftNfse("n1", "1"))

	doc, err := h.coord.Submit(context.Background(), "n1")
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, int32(1), client.transmitCalls.Load(), "un lote recibido no se reenvía")
	assert.Equal(t, int32(2), client.queryCalls.Load())
	assert.Equal(t, entity.NfseStatusTransmitting, doc.Status)

	stored := h.docs.get("n1")
	assert.Equal(t, entity.NfseStatusTransmitting, stored.Status)
	assert.Equal(t, "PROT-1", stored.LotProtocol)
	assert.Nil(t, stored.Protocol)
	assert.Equal(t, "<EnviarLoteRpsEnvio/>", stored.OutboundXML)
	assert.Len(t, stored.ErrorList, 3)
	assert.Zero(t, h.locker.held())

	// La reconciliación asigna la NFS-e cuando la prefeitura termina el lote.
	done := authorizedEnv("777", "VER777")
	done.Protocol = ""
	client.query = always(done, nil)
	report, err := h.coord.Reconcile(context.Background(), testutil.BusinessID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)

	stored = h.docs.get("n1")
	assert.Equal(t, entity.NfseStatusAuthorized, stored.Status)
	assert.Equal(t, "777", *stored.NfseNumber)
	assert.Equal(t, "PROT-1", *stored.Protocol)
	assert.Empty(t, stored.LotProtocol)
	assert.Equal(t, int32(1), client.transmitCalls.Load())
}

func TestSubmit_DesdeErrorConsultaAntesDeReenviar(t *testing.T) {
	duplicate := &entity.ResponseEnvelope{
		Outcome:  entity.OutcomeRejected,
		Messages: []entity.NfseMessage{{Code: "E10", Message: "RPS já informado"}},
	}

	t.Run("ya registrada", func(t *testing.T) {
		doc := testutil.NewDraftNfse("n1", "1")
		doc.Status = entity.NfseStatusError
		doc.ErrorList = []entity.NfseMessage{{Code: "TRANSIENT", Message: "intento 3: timeout"}}
		client := &scriptedClient{transmit: always(duplicate, nil), query: always(authorizedEnv("900", "VER900"), nil)}
		h := newHarness(client, doc)

		got, err := h.coord.Submit(context.Background(), "n1")
		require.NoError(t, err)
		assert.Equal(t, entity.NfseStatusAuthorized, got.Status)
		assert.Equal(t, "900", *got.NfseNumber)
		assert.Zero(t, client.transmitCalls.Load(), "el RPS ya registrado no se reenvía")
		assert.Equal(t, int32(1), client.queryCalls.Load())
	})

	t.Run("registrada entre consulta y envío", func(t *testing.T) {
		doc := testutil.NewDraftNfse("n1", "1")
		doc.Status = entity.NfseStatusError
		client := &scriptedClient{
			transmit: always(duplicate, nil),
			query: func(call int) (*entity.ResponseEnvelope, error) {
				if call == 1 {
					return notFound(call)
				}
				return authorizedEnv("900", "VER900"), nil
			},
		}
		h := newHarness(client, doc)

		got, err := h.coord.Submit(context.Background(), "n1")
		require.NoError(t, err)
		assert.Equal(t, entity.NfseStatusAuthorized, got.Status)
		assert.Equal(t, "900", *got.NfseNumber)
		assert.Equal(t, int32(1), client.transmitCalls.Load())
		assert.Equal(t, int32(2), client.queryCalls.Load())
		assert.NotContains(t, h.events.path("n1"), entity.NfseStatusRejected)
	})
}

func TestSubmit_ErrorNoReintentableEsTerminal(t *testing.T) {
	client := &scriptedClient{transmit: always(nil, domain.ErrNoActiveCertificate)}
	h := newHarness(client, testutil.NewDraftNfse("n1", "1"))

	doc, err := h.coord.Submit(context.Background(), "n1")
	assert.ErrorIs(t, err, domain.ErrNoActiveCertificate)
	assert.Equal(t, int32(1), client.transmitCalls.Load())
	assert.Equal(t, entity.NfseStatusError, doc.Status)
	require.Len(t, doc.ErrorList, 1)
	assert.Equal(t, "LOCAL", doc.ErrorList[0].Code)
}

func TestSubmit_DocumentoInvalidoNoSaleALaRed(t *testing.T) {
	doc := testutil.NewDraftNfse("n1", "1")
	doc.ProviderCnpj = "11222333000100"
	client := &scriptedClient{transmit: always(authorizedEnv("1", "A"), nil)}
	h := newHarness(client, doc)

	_, err := h.coord.Submit(context.Background(), "n1")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, client.transmitCalls.Load())
	assert.Equal(t, entity.NfseStatusDraft, h.docs.get("n1").Status)
}

func TestSubmit_EstadosInvalidos(t *testing.T) {
	for _, status := range []string{
		entity.NfseStatusQueued,
		entity.NfseStatusTransmitting,
		entity.NfseStatusAuthorized,
		entity.NfseStatusCancelled,
		entity.NfseStatusSubstituted,
	} {
		t.Run(status, func(t *testing.T) {
			doc := testutil.NewDraftNfse("n1", "1")
			doc.Status = status
			client := &scriptedClient{transmit: always(authorizedEnv("1", "A"), nil)}
			h := newHarness(client, doc)

			_, err := h.coord.Submit(context.Background(), "n1")
			var ite *domain.InvalidTransitionError
			require.True(t, errors.As(err, &ite))
			assert.Equal(t, status, ite.From)
			assert.Zero(t, client.transmitCalls.Load())
		})
	}
}

func TestSubmit_NoEncontrada(t *testing.T) {
	h := newHarness(&scriptedClient{})
	_, err := h.coord.Submit(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ──────────────────────────────────────────────────────────────────────────────
// Concurrencia y candado
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmit_CandadoDeOtroWorker(t *testing.T) {
	doc := testutil.NewDraftNfse("n1", "1")
	client := &scriptedClient{transmit: always(authorizedEnv("1", "A"), nil)}
	h := newHarness(client, doc)
	_, err := h.locker.Acquire(context.Background(), LockKey(doc), time.Minute)
	require.NoError(t, err)

	_, err = h.coord.Submit(context.Background(), "n1")
	assert.ErrorIs(t, err, domain.ErrConcurrentOperation)
	assert.Zero(t, client.transmitCalls.Load())
	assert.Equal(t, entity.NfseStatusDraft, h.docs.get("n1").Status)
}

func TestSubmit_WorkersConcurrentesTransmitenUnaVez(t *testing.T) {
	gate := make(chan struct{})
	client := &scriptedClient{transmit: always(authorizedEnv("42", "C42"), nil), gate: gate}
	h := newHarness(client, testutil.NewDraftNfse("n1", "1"))

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	var losers sync.WaitGroup
	losers.Add(workers - 1)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.coord.Submit(context.Background(), "n1")
			if errs[i] != nil {
				losers.Done()
			}
		}(i)
	}
	// El ganador queda bloqueado en Transmit hasta que todos los demás terminen.
	losers.Wait()
	close(gate)
	wg.Wait()

	var ok int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			assert.True(t,
				errors.Is(err, domain.ErrConcurrentOperation) || errors.Is(err, domain.ErrInvalidTransition),
				"error inesperado: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int32(1), client.transmitCalls.Load())
	assert.Equal(t, entity.NfseStatusAuthorized, h.docs.get("n1").Status)
}

func TestSubmit_CandadoPerdidoAbortaLaOperacion(t *testing.T) {
	client := &scriptedClient{transmit: always(authorizedEnv("1", "A"), nil), gate: make(chan struct{})}
	h := newHarness(client, testutil.NewDraftNfse("n1", "1"))
	h.coord.cfg.LockTTL = 30 * time.Millisecond
	h.locker.failExtend.Store(true)

	_, err := h.coord.Submit(context.Background(), "n1")
	assert.ErrorIs(t, err, domain.ErrConcurrentOperation)
	assert.Equal(t, entity.NfseStatusTransmitting, h.docs.get("n1").Status,
		"sin candado no se escribe el resultado; queda para reconciliación")
}

// ──────────────────────────────────────────────────────────────────────────────
// Cancel
// ──────────────────────────────────────────────────────────────────────────────

func TestCancel_DesdeDraftEsInvalido(t *testing.T) {
	client := &scriptedClient{}
	h := newHarness(client, testutil.NewDraftNfse("n1", "1"))

	_, err := h.coord.Cancel(context.Background(), "n1", entity.CancelRequest{Reason: "erro"})
	var ite *domain.InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, entity.NfseStatusDraft, ite.From)
	assert.Zero(t, client.cancelCalls.Load())
	assert.Equal(t, entity.NfseStatusDraft, h.docs.get("n1").Status)
}

func TestCancel_Confirmado(t *testing.T) {
	at := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	client := &scriptedClient{cancel: always(&entity.ResponseEnvelope{
		Outcome:     entity.OutcomeAuthorized,
		CancelledAt: &at,
		Messages:    []entity.NfseMessage{},
	}, nil)}
	h := newHarness(client, authorizedDoc("n1", "1", "100"))

	doc, err := h.coord.Cancel(context.Background(), "n1", entity.CancelRequest{Code: "2", Reason: "serviço não prestado"})
	require.NoError(t, err)
	assert.Equal(t, entity.NfseStatusCancelled, doc.Status)
	require.NotNil(t, doc.CancelledAt)
	assert.True(t, at.Equal(*doc.CancelledAt))
	assert.Equal(t, "serviço não prestado", doc.CancellationReason)
	assert.Equal(t, "100", *doc.NfseNumber, "la identidad autorizada se conserva")
	assert.Equal(t, []string{entity.NfseStatusCancelling, entity.NfseStatusCancelled}, h.events.path("n1"))
}

func TestCancel_RechazoVuelveAAutorizada(t *testing.T) {
	client := &scriptedClient{cancel: always(&entity.ResponseEnvelope{
		Outcome:  entity.OutcomeRejected,
		Messages: []entity.NfseMessage{{Code: "E79", Message: "Prazo de cancelamento expirado"}},
	}, nil)}
	h := newHarness(client, authorizedDoc("n1", "1", "100"))

	doc, err := h.coord.Cancel(context.Background(), "n1", entity.CancelRequest{})
	assert.ErrorIs(t, err, domain.ErrRejectedByAuthority)
	assert.Equal(t, entity.NfseStatusAuthorized, doc.Status)
	assert.Nil(t, doc.CancelledAt)
	require.Len(t, doc.ErrorList, 1)
	assert.Equal(t, "E79", doc.ErrorList[0].Code)
}

func TestCancel_CodigoInvalido(t *testing.T) {
	client := &scriptedClient{}
	h := newHarness(client, authorizedDoc("n1", "1", "100"))

	_, err := h.coord.Cancel(context.Background(), "n1", entity.CancelRequest{Code: "7"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, client.cancelCalls.Load())
}

func TestCancel_TransitorioResueltoPorConsulta(t *testing.T) {
	at := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	cancelled := authorizedEnv("100", "VER100")
	cancelled.CancelledAt = &at
	client := &scriptedClient{cancel: timeout, query: always(cancelled, nil)}
	h := newHarness(client, authorizedDoc("n1", "1", "100"))

	doc, err := h.coord.Cancel(context.Background(), "n1", entity.CancelRequest{})
	require.NoError(t, err)
	assert.Equal(t, entity.NfseStatusCancelled, doc.Status)
	assert.Equal(t, int32(1), client.cancelCalls.Load())
}

// ──────────────────────────────────────────────────────────────────────────────
// Query / Delete / Reconcile
// ──────────────────────────────────────────────────────────────────────────────

func TestQuery_EsIdempotente(t *testing.T) {
	client := &scriptedClient{query: always(authorizedEnv("100", "VER100"), nil)}
	h := newHarness(client, authorizedDoc("n1", "1", "100"))

	first, env, err := h.coord.Query(context.Background(), "n1")
	require.NoError(t, err)
	require.NotNil(t, env)
	second, _, err := h.coord.Query(context.Background(), "n1")
	require.NoError(t, err)

	assert.Equal(t, entity.NfseStatusAuthorized, first.Status)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	assert.Empty(t, h.events.path("n1"), "una consulta sin novedades no transiciona")
}

func TestQuery_DetectaCancelamentoExterno(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	env := authorizedEnv("100", "VER100")
	env.CancelledAt = &at
	h := newHarness(&scriptedClient{query: always(env, nil)}, authorizedDoc("n1", "1", "100"))

	doc, _, err := h.coord.Query(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, entity.NfseStatusCancelled, doc.Status)
}

func TestQuery_DraftEsInvalido(t *testing.T) {
	h := newHarness(&scriptedClient{}, testutil.NewDraftNfse("n1", "1"))
	_, _, err := h.coord.Query(context.Background(), "n1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestDelete(t *testing.T) {
	h := newHarness(&scriptedClient{}, testutil.NewDraftNfse("n1", "1"), authorizedDoc("n2", "2", "200"))

	require.NoError(t, h.coord.Delete(context.Background(), "n1"))
	assert.Nil(t, h.docs.get("n1"))

	err := h.coord.Delete(context.Background(), "n2")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.NotNil(t, h.docs.get("n2"))
}

func TestReconcile(t *testing.T) {
	inflight := testutil.NewDraftNfse("t1", "1")
	inflight.Status = entity.NfseStatusTransmitting
	queued := testutil.NewDraftNfse("q1", "2")
	queued.Status = entity.NfseStatusQueued
	owned := testutil.NewDraftNfse("t2", "3")
	owned.Status = entity.NfseStatusTransmitting

	client := &scriptedClient{query: always(authorizedEnv("300", "VER300"), nil)}
	h := newHarness(client, inflight, queued, owned)
	_, err := h.locker.Acquire(context.Background(), LockKey(owned), time.Minute)
	require.NoError(t, err)

	report, err := h.coord.Reconcile(context.Background(), testutil.BusinessID)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 2, report.Resolved)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)
	assert.Equal(t, entity.NfseStatusAuthorized, h.docs.get("t1").Status)
	assert.Equal(t, "300", *h.docs.get("t1").NfseNumber)
	assert.Equal(t, entity.NfseStatusError, h.docs.get("q1").Status)
	assert.Equal(t, entity.NfseStatusTransmitting, h.docs.get("t2").Status)
}

func TestReconcile_RpsDesconocidoPasaAError(t *testing.T) {
	inflight := testutil.NewDraftNfse("t1", "1")
	inflight.Status = entity.NfseStatusTransmitting
	h := newHarness(&scriptedClient{}, inflight)

	report, err := h.coord.Reconcile(context.Background(), testutil.BusinessID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, entity.NfseStatusError, h.docs.get("t1").Status)
}
