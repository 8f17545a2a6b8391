package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
	"github.com/chatbotadsmanager/adsmanager/internal/store"
)

type fakeUploader struct {
	inputs []*s3.PutObjectInput
	bodies map[string]string
	err    error
}

func (f *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	data, _ := io.ReadAll(in.Body)
	if f.bodies == nil {
		f.bodies = map[string]string{}
	}
	f.bodies[aws.ToString(in.Key)] = string(data)
	return &manager.UploadOutput{Key: in.Key}, nil
}

func seeded(t *testing.T) *store.InMemoryStore {
	t.Helper()
	st := store.NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.Append(ctx, "59171111111", models.NewMessage(models.RoleUser, "Hola, ¿cuánto cuesta?")))
	require.NoError(t, st.Append(ctx, "59171111111", models.NewMessage(models.RoleAssistant, "Desde 5 Bs <por día>")))
	require.NoError(t, st.Append(ctx, "59172222222", models.NewMessage(models.RoleUser, "Hola")))
	return st
}

func TestExportToDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	sink, err := NewDirSink(dir)
	require.NoError(t, err)

	m, err := NewExporter(seeded(t), sink).Export(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"59171111111.json", "59172222222.json"}, m.Files)
	require.NotEmpty(t, m.RunID)

	raw, err := os.ReadFile(filepath.Join(dir, "59171111111.json"))
	require.NoError(t, err)
	require.Contains(t, string(raw), "¿cuánto cuesta?", "non-ASCII text is written as UTF-8")
	require.Contains(t, string(raw), "<por día>", "HTML characters are not escaped")
	require.Contains(t, string(raw), "\n    \"nombre\"", "documents are indented")

	var doc struct {
		Nombre    string           `json:"nombre"`
		Historial []models.Message `json:"historial"`
		Ultima    string           `json:"ultima_actualizacion"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, models.DefaultDisplayName, doc.Nombre)
	require.Len(t, doc.Historial, 2)
	require.NotEmpty(t, doc.Ultima)

	_, err = os.Stat(filepath.Join(dir, ManifestName))
	require.NoError(t, err)
}

func TestExportToS3(t *testing.T) {
	up := &fakeUploader{}
	sink := newS3Sink(up, "backups", "/conversations/")

	m, err := NewExporter(seeded(t), sink).Export(context.Background())
	require.NoError(t, err)
	require.Len(t, m.Files, 2)
	require.Len(t, up.inputs, 3)
	require.Equal(t, "backups", aws.ToString(up.inputs[0].Bucket))
	require.Equal(t, "conversations/59171111111.json", aws.ToString(up.inputs[0].Key))
	require.Equal(t, "conversations/manifest.json", aws.ToString(up.inputs[2].Key))
	require.True(t, strings.Contains(up.bodies["conversations/manifest.json"], m.RunID))
	require.Equal(t, "s3://backups/conversations", sink.Describe())
}

func TestExport_SinkError(t *testing.T) {
	sink := newS3Sink(&fakeUploader{err: errors.New("access denied")}, "b", "")
	_, err := NewExporter(seeded(t), sink).Export(context.Background())
	require.ErrorContains(t, err, "access denied")
}

func TestExport_Empty(t *testing.T) {
	up := &fakeUploader{}
	m, err := NewExporter(store.NewInMemoryStore(), newS3Sink(up, "b", "")).Export(context.Background())
	require.NoError(t, err)
	require.Empty(t, m.Files)
	require.Len(t, up.inputs, 1)
	require.Equal(t, ManifestName, aws.ToString(up.inputs[0].Key))
}
