package sender

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestSender(windowSize uint16, windowPosition uint16) *Sender {
	return &Sender{
		windowSize:     windowSize,
		windowPosition: windowPosition,
		loadedParts:    make(map[uint16]*part),
	}
}

func TestAcknowledgeAdvancesWindowAndRemovesParts(t *testing.T) {
	s := newTestSender(4, 10)
	s.loadedParts[10] = &part{}
	s.loadedParts[11] = &part{}
	s.loadedParts[12] = &part{}
	s.loadedParts[13] = &part{}

	advanced := s.acknowledge(11)

	assert.True(t, advanced)
	assert.EqualValues(t, 12, s.windowPosition)
	assert.NotContains(t, s.loadedParts, uint16(10))
	assert.NotContains(t, s.loadedParts, uint16(11))
	assert.Contains(t, s.loadedParts, uint16(12))
	assert.Contains(t, s.loadedParts, uint16(13))
}

func TestAcknowledgeOutsideWindowIgnored(t *testing.T) {
	s := newTestSender(4, 10)
	s.loadedParts[10] = &part{}

	advanced := s.acknowledge(200)

	assert.False(t, advanced)
	assert.EqualValues(t, 10, s.windowPosition)
	assert.Contains(t, s.loadedParts, uint16(10))
}

func TestAcknowledgeHandlesWraparound(t *testing.T) {
	s := newTestSender(4, 65534)
	s.loadedParts[65534] = &part{}
	s.loadedParts[65535] = &part{}
	s.loadedParts[0] = &part{}

	advanced := s.acknowledge(0)

	assert.True(t, advanced)
	assert.EqualValues(t, 1, s.windowPosition)
	assert.NotContains(t, s.loadedParts, uint16(65534))
	assert.NotContains(t, s.loadedParts, uint16(65535))
	assert.NotContains(t, s.loadedParts, uint16(0))
}

func TestIsCompleteRequiresEmptyPartsAndEOF(t *testing.T) {
	s := newTestSender(4, 0)
	assert.False(t, s.isComplete(), "no file state yet")

	s.fileFullyRead = true
	assert.True(t, s.isComplete())

	s.loadedParts[0] = &part{}
	assert.False(t, s.isComplete())
}
