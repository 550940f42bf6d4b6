package linux

type NR int

const (
	NR_unknown NR = iota
	NR_futex
	NR_clock_gettime
	NR_gettimeofday
	NR_getpid
	NR_gettid
	NR_sysinfo
)

var nrNames = [...]string{
	NR_unknown:       "unknown",
	NR_futex:         "futex",
	NR_clock_gettime: "clock_gettime",
	NR_gettimeofday:  "gettimeofday",
	NR_getpid:        "getpid",
	NR_gettid:        "gettid",
	NR_sysinfo:       "sysinfo",
}

func (nr NR) String() string {
	if nr < 0 || int(nr) >= len(nrNames) {
		return nrNames[NR_unknown]
	}
	return nrNames[nr]
}

// NRTable maps the raw syscall number of one architecture to an NR.
type NRTable map[uint64]NR

func (t NRTable) Lookup(no uint64) NR {
	if nr, ok := t[no]; ok {
		return nr
	}
	return NR_unknown
}

var (
	// NRTableARM64 follows asm-generic/unistd.h.
	NRTableARM64 = NRTable{
		98:  NR_futex,
		113: NR_clock_gettime,
		169: NR_gettimeofday,
		172: NR_getpid,
		178: NR_gettid,
		179: NR_sysinfo,
	}

	// NRTableARM is the EABI numbering.
	NRTableARM = NRTable{
		20:  NR_getpid,
		78:  NR_gettimeofday,
		116: NR_sysinfo,
		224: NR_gettid,
		240: NR_futex,
		263: NR_clock_gettime,
	}
)
