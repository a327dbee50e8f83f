package accnt

import "testing"

func TestAddMergesCounters(t *testing.T) {
	a := &Accnt_t{Userns: 100, Sysns: 50}
	b := &Accnt_t{Userns: 10, Sysns: 5}
	a.Add(b)
	if a.Userns != 110 || a.Sysns != 55 {
		t.Fatalf("got user=%d sys=%d", a.Userns, a.Sysns)
	}
}

func TestToRusageEncodesSecondsAndMicros(t *testing.T) {
	a := &Accnt_t{Userns: 2_500_000_000, Sysns: 0}
	buf := a.To_rusage()
	if len(buf) != 32 {
		t.Fatalf("expected 32-byte rusage, got %d", len(buf))
	}
	sec := int64(0)
	for i := 0; i < 8; i++ {
		sec |= int64(buf[i]) << (8 * i)
	}
	if sec != 2 {
		t.Fatalf("expected 2 whole seconds of user time, got %d", sec)
	}
}
