package nfse_test

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	"github.com/jhoicas/nfse-gateway/internal/infrastructure/nfse"
	"github.com/jhoicas/nfse-gateway/internal/testutil"
)

func parseOutbound(t *testing.T, msg *nfse.OutboundMessage) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(msg.XML))
	return doc
}

func TestBuildSubmission_V1(t *testing.T) {
	b := nfse.NewXMLBuilderService()
	msg, err := b.BuildSubmission(testutil.NewDraftNfse("n1", "10"), testutil.NewCity(entity.SchemaVersionABRASF100, ""))
	require.NoError(t, err)

	assert.Equal(t, nfse.OpRecepcionarLoteRps, msg.Operation)
	assert.Equal(t, []string{"rps10A", "lote10A"}, msg.SignIDs)
	assert.Contains(t, string(msg.XML), "<ValorServicos>1000.00</ValorServicos>")

	doc := parseOutbound(t, msg)
	assert.Equal(t, "EnviarLoteRpsEnvio", doc.Root().Tag)
	assert.Equal(t, nfse.NsABRASF, doc.Root().SelectAttrValue("xmlns", ""))
	inf := doc.FindElement("//InfRps")
	require.NotNil(t, inf)
	assert.Equal(t, "rps10A", inf.SelectAttrValue("Id", ""))
	assert.Equal(t, "0.0500", inf.FindElement("./Servico/Valores/Aliquota").Text())
	assert.Equal(t, "50.00", inf.FindElement("./Servico/Valores/ValorIss").Text())
	assert.Equal(t, "2", inf.FindElement("./Servico/Valores/IssRetido").Text())
	assert.Equal(t, "2026-03-10T14:30:00", inf.SelectElement("DataEmissao").Text())
	assert.Equal(t, "3550308", inf.FindElement("./Servico/CodigoMunicipio").Text())
	assert.Equal(t, "52998224725", inf.FindElement("./Tomador/IdentificacaoTomador/CpfCnpj/Cpf").Text())
	assert.Nil(t, inf.FindElement("./Servico/Valores/ValorDeducoes"))
}

func TestBuildSubmission_V2(t *testing.T) {
	b := nfse.NewXMLBuilderService()
	msg, err := b.BuildSubmission(testutil.NewDraftNfse("n1", "10"), testutil.NewCity(entity.SchemaVersionABRASF204, ""))
	require.NoError(t, err)

	assert.Equal(t, nfse.OpRecepcionarLoteRpsSincrono, msg.Operation)
	doc := parseOutbound(t, msg)
	assert.Equal(t, "EnviarLoteRpsSincronoEnvio", doc.Root().Tag)
	assert.Equal(t, "2.04", doc.FindElement("//LoteRps").SelectAttrValue("versao", ""))
	inf := doc.FindElement("//InfDeclaracaoPrestacaoServico")
	require.NotNil(t, inf)
	assert.Equal(t, "5.00", inf.FindElement("./Servico/Valores/Aliquota").Text())
	assert.Equal(t, "1000.00", inf.FindElement("./Servico/Valores/ValorServicos").Text())
	assert.Equal(t, "2026-03-10", inf.FindElement("./Rps/DataEmissao").Text())
	assert.Equal(t, "11222333000181", inf.FindElement("./Prestador/CpfCnpj/Cnpj").Text())
}

func TestBuildCancellation(t *testing.T) {
	b := nfse.NewXMLBuilderService()
	doc := testutil.NewDraftNfse("n1", "10")

	_, err := b.BuildCancellation(doc, testutil.NewCity(entity.SchemaVersionABRASF100, ""), "1")
	require.Error(t, err, "sin número de NFS-e no hay cancelamento")

	number := "12345"
	doc.NfseNumber = &number
	msg, err := b.BuildCancellation(doc, testutil.NewCity(entity.SchemaVersionABRASF100, ""), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"cancel12345"}, msg.SignIDs)
	x := parseOutbound(t, msg)
	assert.Equal(t, "12345", x.FindElement("//IdentificacaoNfse/Numero").Text())
	assert.Equal(t, "11222333000181", x.FindElement("//IdentificacaoNfse/Cnpj").Text())
	assert.Equal(t, "1", x.FindElement("//CodigoCancelamento").Text(), "código por defecto")

	msg, err = b.BuildCancellation(doc, testutil.NewCity(entity.SchemaVersionABRASF202, ""), "2")
	require.NoError(t, err)
	x = parseOutbound(t, msg)
	assert.NotNil(t, x.FindElement("//IdentificacaoNfse/CpfCnpj/Cnpj"))
	assert.Equal(t, "2", x.FindElement("//CodigoCancelamento").Text())
}

func TestBuildSubstitution(t *testing.T) {
	b := nfse.NewXMLBuilderService()
	original := testutil.NewDraftNfse("n1", "10")
	number := "12345"
	original.NfseNumber = &number
	replacement := testutil.NewDraftNfse("n2", "11")

	_, err := b.BuildSubstitution(original, replacement, testutil.NewCity(entity.SchemaVersionABRASF100, ""), "1")
	assert.Error(t, err, "1.00 no soporta sustitución")

	msg, err := b.BuildSubstitution(original, replacement, testutil.NewCity(entity.SchemaVersionABRASF204, ""), "1")
	require.NoError(t, err)
	assert.Equal(t, nfse.OpSubstituirNfse, msg.Operation)
	assert.Equal(t, []string{"rps11A", "cancel12345", "subst12345"}, msg.SignIDs)
	x := parseOutbound(t, msg)
	assert.Equal(t, "12345", x.FindElement("//SubstituicaoNfse/Pedido//IdentificacaoNfse/Numero").Text())
	assert.Equal(t, "11", x.FindElement("//SubstituicaoNfse/Rps//IdentificacaoRps/Numero").Text())
}

func TestBuildQuery(t *testing.T) {
	b := nfse.NewXMLBuilderService()
	msg, err := b.BuildQuery(testutil.NewDraftNfse("n1", "10"), testutil.NewCity(entity.SchemaVersionABRASF100, ""))
	require.NoError(t, err)
	assert.Empty(t, msg.SignIDs)
	x := parseOutbound(t, msg)
	assert.Equal(t, "ConsultarNfseRpsEnvio", x.Root().Tag)
	assert.Equal(t, "10", x.FindElement("//IdentificacaoRps/Numero").Text())
	assert.Equal(t, "A", x.FindElement("//IdentificacaoRps/Serie").Text())
	assert.Equal(t, "1", x.FindElement("//IdentificacaoRps/Tipo").Text())
}

func TestBuild_ContextoIncompleto(t *testing.T) {
	b := nfse.NewXMLBuilderService()
	_, err := b.BuildSubmission(nil, testutil.NewCity(entity.SchemaVersionABRASF100, ""))
	assert.Error(t, err)
	city := testutil.NewCity(entity.SchemaVersionABRASF100, "")
	city.IBGECode = ""
	_, err = b.BuildSubmission(testutil.NewDraftNfse("n1", "10"), city)
	assert.Error(t, err)
}
