package record

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIsTerminator(t *testing.T) {
	if (Record{PacketID: 5}).IsTerminator() {
		t.Fatalf("a positive packet id must not be a terminator")
	}
	if !(Record{PacketID: -5}).IsTerminator() {
		t.Fatalf("a negative packet id must be a terminator")
	}
}

func TestNullRecordIsEmptyReport(t *testing.T) {
	id := uuid.New()
	now := time.Now()
	r := Null(id, now)
	if !r.EmptyReport {
		t.Fatalf("Null record must set EmptyReport")
	}
	if r.JobID != id || !r.PacketTime.Equal(now) {
		t.Fatalf("Null record did not carry through its job id / timestamp")
	}
	if r.PacketID != 0 {
		t.Fatalf("Null record must not look like a terminator")
	}
}
