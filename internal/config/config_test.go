package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decsync/go-decsync/internal/decmodel"
	"github.com/decsync/go-decsync/internal/nativefile"
)

func TestReadOrCreateDecsyncInfoCreatesDefault(t *testing.T) {
	root := nativefile.NewMemRoot()

	info, err := ReadOrCreateDecsyncInfo(root)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Version)

	again, err := ReadOrCreateDecsyncInfo(root)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Version)
}

func TestReadOrCreateDecsyncInfoHonoursExistingVersion(t *testing.T) {
	root := nativefile.NewMemRoot()
	require.NoError(t, root.Child(".decsync-info").Write([]byte(`{"version":2}`), false))

	info, err := ReadOrCreateDecsyncInfo(root)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Version)
}

func TestReadOrCreateDecsyncInfoRejectsMalformedJSON(t *testing.T) {
	root := nativefile.NewMemRoot()
	require.NoError(t, root.Child(".decsync-info").Write([]byte(`not json`), false))

	_, err := ReadOrCreateDecsyncInfo(root)
	require.Error(t, err)
	var invalid *decmodel.InvalidInfoError
	assert.ErrorAs(t, err, &invalid)
}

func TestReadOrCreateDecsyncInfoRejectsUnsupportedVersion(t *testing.T) {
	root := nativefile.NewMemRoot()
	require.NoError(t, root.Child(".decsync-info").Write([]byte(`{"version":99}`), false))

	_, err := ReadOrCreateDecsyncInfo(root)
	require.Error(t, err)
	var unsupported *decmodel.UnsupportedVersionError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, 99, unsupported.Found)
	assert.Equal(t, SupportedVersion, unsupported.Supported)
}

func TestCheckDecsyncInfoCreatesDefaultOnAbsentFile(t *testing.T) {
	root := nativefile.NewMemRoot()
	require.NoError(t, CheckDecsyncInfo(root))

	info, err := ReadOrCreateDecsyncInfo(root)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Version)
}

func TestCheckDecsyncInfoRejectsMultilineFile(t *testing.T) {
	root := nativefile.NewMemRoot()
	require.NoError(t, root.Child(".decsync-info").Write([]byte("{\"version\":1}\n{\"version\":2}\n"), false))

	err := CheckDecsyncInfo(root)
	require.Error(t, err)
	var invalid *decmodel.InvalidInfoError
	assert.ErrorAs(t, err, &invalid)
}

func TestLocalInfoRoundTrip(t *testing.T) {
	localDir := nativefile.NewMemRoot()

	_, present, err := ReadLocalInfo(localDir)
	require.NoError(t, err)
	assert.False(t, present)

	want := &LocalInfo{Version: 2, LastActive: "2020-01-01", SupportedVersion: 2}
	require.NoError(t, WriteLocalInfo(localDir, want))

	got, present, err := ReadLocalInfo(localDir)
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, want, got)
}

func TestReadLocalInfoToleratesCorruptFile(t *testing.T) {
	localDir := nativefile.NewMemRoot()
	require.NoError(t, localDir.Child("info").Write([]byte("garbage"), false))

	info, present, err := ReadLocalInfo(localDir)
	require.NoError(t, err)
	assert.False(t, present)
	assert.Nil(t, info)
}
