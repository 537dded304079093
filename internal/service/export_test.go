package service

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshroster/internal/domain"
)

func TestExportImportRoster(t *testing.T) {
	ctx := context.Background()
	src := newFixture(t, nil)
	require.True(t, src.svc.AddDevice(ctx, AddDeviceRequest{NodeID: "COM3", DisplayName: "desk", Role: "PRIMARY"}).OK)
	require.True(t, src.svc.AddDevice(ctx, AddDeviceRequest{NodeID: "10.0.0.9:4403"}).OK)

	var buf bytes.Buffer
	require.NoError(t, src.svc.ExportRoster(ctx, "yaml", &buf))
	assert.Contains(t, buf.String(), "node_id: COM3")

	dst := newFixture(t, nil)
	require.True(t, dst.svc.AddDevice(ctx, AddDeviceRequest{NodeID: "COM3"}).OK)

	results, err := dst.svc.ImportRoster(ctx, "yml", &buf)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].OK)
	assert.Equal(t, "COM3: device COM3 already exists", results[0].Reason)
	assert.True(t, results[1].OK)

	d, err := dst.svc.GetDevice(ctx, "10.0.0.9:4403")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionNetwork, d.ConnectionKind)
}

func TestExportRoster_UnknownFormat(t *testing.T) {
	f := newFixture(t, nil)
	err := f.svc.ExportRoster(context.Background(), "csv", &bytes.Buffer{})
	assert.ErrorContains(t, err, "unsupported format")

	_, err = f.svc.ImportRoster(context.Background(), "json", strings.NewReader("not json"))
	assert.ErrorContains(t, err, "failed to parse JSON")
}
