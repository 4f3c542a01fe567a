// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package badgerpages_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parascope/runtime/pkg/alloc"
	"github.com/parascope/runtime/pkg/alloc/badgerpages"
)

func TestCheckpointRestoreRoundTrip(t *testing.T) {
	total, page := uint32(1<<20), uint32(64)
	a, err := alloc.CreateAllocator(&total, &page, nil, nil, nil)
	require.NoError(t, err)

	pm := alloc.CreateMiscPageManager(a)
	buf1, err := pm.Alloc(32)
	require.NoError(t, err)
	copy(buf1, []byte("first page payload"))

	buf2, err := pm.Alloc(64)
	require.NoError(t, err)
	copy(buf2, []byte("second page payload, forces a new page"))

	store, err := badgerpages.Open("")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Checkpoint(pm))

	restored, err := store.Restore(a)
	require.NoError(t, err)

	wantInfos := pm.GetPageInfos()
	gotInfos := restored.GetPageInfos()
	require.Equal(t, wantInfos, gotInfos)

	for _, info := range wantInfos {
		want, err := pm.PageBytes(info.PageID)
		require.NoError(t, err)
		got, err := restored.PageBytes(info.PageID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRestoreWithoutCheckpointFails(t *testing.T) {
	total, page := uint32(1<<20), uint32(64)
	a, err := alloc.CreateAllocator(&total, &page, nil, nil, nil)
	require.NoError(t, err)

	store, err := badgerpages.Open("")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Restore(a)
	assert.Error(t, err)
}
