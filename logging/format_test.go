// SPDX-License-Identifier: MIT

package logging

import (
	"strings"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrapper(t *testing.T) {
	cases := []struct {
		name     string
		input    []uint16
		expected []int64
	}{
		{
			name:     "emptySequence",
			input:    []uint16{},
			expected: []int64{},
		},
		{
			name:     "monotonic",
			input:    []uint16{0, 1, 2, 3},
			expected: []int64{0, 1, 2, 3},
		},
		{
			name:     "wrapAround",
			input:    []uint16{65534, 65535, 0, 1},
			expected: []int64{65534, 65535, 65536, 65537},
		},
		{
			name:     "reorderedBeforeWrap",
			input:    []uint16{65534, 0, 65535, 1},
			expected: []int64{65534, 65536, 65535, 65537},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := &unwrapper{}
			got := make([]int64, 0, len(tc.input))
			for _, i := range tc.input {
				got = append(got, u.unwrap(i))
			}
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestRTPFormat(t *testing.T) {
	f := &RTPFormatter{}
	pkt := &rtp.Packet{
		Header: rtp.Header{
			PayloadType:    96,
			SSRC:           1234,
			SequenceNumber: 7,
			Timestamp:      90000,
			Marker:         true,
		},
		Payload: []byte{0x01, 0x02},
	}

	row := f.RTPFormat(pkt, nil)
	require.True(t, strings.HasSuffix(row, "\n"))

	cols := strings.Split(strings.TrimSpace(row), ", ")
	require.Len(t, cols, 8)
	assert.Equal(t, "96", cols[1])
	assert.Equal(t, "1234", cols[2])
	assert.Equal(t, "7", cols[3])
	assert.Equal(t, "90000", cols[4])
	assert.Equal(t, "true", cols[5])
}

func TestGetLogFileDiscard(t *testing.T) {
	w, err := GetLogFile("")
	require.NoError(t, err)
	_, err = w.Write([]byte("dropped"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestGetLogFileCreatesFile(t *testing.T) {
	path := t.TempDir() + "/rtp.log"
	w, err := GetLogFile(path)
	require.NoError(t, err)

	_, err = w.Write([]byte("1, 2, 3\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.FileExists(t, path)
}
