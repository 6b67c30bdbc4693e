package executor_test

import (
	"testing"

	"github.com/andyjsbell/pvm-dart/pkg/decoder"
	"github.com/andyjsbell/pvm-dart/pkg/executor"
	"github.com/andyjsbell/pvm-dart/pkg/pagedmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, word uint32, pc uint64) decoder.Decoded {
	t.Helper()
	d, err := decoder.Decode(word, pc)
	require.NoError(t, err)
	return d
}

func newState() *executor.State {
	return &executor.State{Memory: pagedmem.New()}
}

func TestTrapPanics(t *testing.T) {
	st := newState()
	d := decode(t, 0, 0)
	r := executor.Step(d, st)
	require.NotNil(t, r.Exit)
	assert.Equal(t, executor.Panic, r.Exit.Reason)
	assert.Equal(t, uint64(0), r.NextPC)
}

func TestFallthroughAdvancesPC(t *testing.T) {
	st := newState()
	d := decode(t, 1, 8)
	r := executor.Step(d, st)
	require.Nil(t, r.Exit)
	assert.Equal(t, uint64(12), r.NextPC)
}

func TestEcalliYieldsHostCallWithoutAdvancingPC(t *testing.T) {
	st := newState()
	word := uint32(10) | uint32(7)<<8 // ecalli 7
	d := decode(t, word, 40)
	r := executor.Step(d, st)
	require.NotNil(t, r.Exit)
	assert.Equal(t, executor.HostCall, r.Exit.Reason)
	assert.Equal(t, "7", r.Exit.Data)
	assert.Equal(t, uint64(40), r.NextPC)
}

func TestAdd64ThreeRegOrderMatchesWorkedExample(t *testing.T) {
	st := newState()
	st.Registers[0] = 42
	st.Registers[1] = 100
	// add_64 r0, r1, r2 -> src1=r0, src2=r1, dst=r2
	word := uint32(200) | uint32(0)<<8 | uint32(1)<<12 | uint32(2)<<16
	d := decode(t, word, 0)
	r := executor.Step(d, st)
	require.Nil(t, r.Exit)
	assert.Equal(t, uint64(142), st.Registers[2])
}

func TestAdd32WrapsAndSignExtends(t *testing.T) {
	st := newState()
	st.Registers[0] = 0x7FFFFFFF
	st.Registers[1] = 1
	// add_32 r0, r1, r2
	word := uint32(190) | uint32(0)<<8 | uint32(1)<<12 | uint32(2)<<16
	d := decode(t, word, 0)
	r := executor.Step(d, st)
	require.Nil(t, r.Exit)
	assert.Equal(t, uint64(0xFFFFFFFF80000000), st.Registers[2])
}

func TestDivUByZeroReturnsAllOnes(t *testing.T) {
	st := newState()
	st.Registers[0] = 5
	st.Registers[1] = 0
	// div_u_64 r0, r1, r2
	word := uint32(203) | uint32(0)<<8 | uint32(1)<<12 | uint32(2)<<16
	d := decode(t, word, 0)
	r := executor.Step(d, st)
	require.Nil(t, r.Exit)
	assert.Equal(t, uint64(0xFFFFFFFFFFFFFFFF), st.Registers[2])
}

func TestDivSByZeroReturnsMinusOne(t *testing.T) {
	st := newState()
	st.Registers[0] = 5
	st.Registers[1] = 0
	// div_s_64 r0, r1, r2
	word := uint32(204) | uint32(0)<<8 | uint32(1)<<12 | uint32(2)<<16
	d := decode(t, word, 0)
	r := executor.Step(d, st)
	require.Nil(t, r.Exit)
	assert.Equal(t, uint64(0xFFFFFFFFFFFFFFFF), st.Registers[2])
}

func TestDivSIntMinOverflowReturnsDividend(t *testing.T) {
	st := newState()
	st.Registers[0] = uint64(int64(-1) << 63) // INT64_MIN
	st.Registers[1] = uint64(int64(-1))
	// div_s_64 r0, r1, r2
	word := uint32(204) | uint32(0)<<8 | uint32(1)<<12 | uint32(2)<<16
	d := decode(t, word, 0)
	r := executor.Step(d, st)
	require.Nil(t, r.Exit)
	assert.Equal(t, st.Registers[0], st.Registers[2])
}

func TestRemSIntMinOverflowReturnsZero(t *testing.T) {
	st := newState()
	st.Registers[0] = uint64(int64(-1) << 63)
	st.Registers[1] = uint64(int64(-1))
	// rem_s_64 r0, r1, r2
	word := uint32(206) | uint32(0)<<8 | uint32(1)<<12 | uint32(2)<<16
	d := decode(t, word, 0)
	r := executor.Step(d, st)
	require.Nil(t, r.Exit)
	assert.Equal(t, uint64(0), st.Registers[2])
}

func TestSbrkGrowsMemoryAndReturnsBase(t *testing.T) {
	st := newState()
	st.Memory.Allocate(0, pagedmem.ReadOnly) // one page already mapped, e.g. the program
	st.Registers[1] = 4097

	// sbrk r0, r1
	word := uint32(101) | uint32(0)<<8 | uint32(1)<<12
	d := decode(t, word, 0)
	r := executor.Step(d, st)
	require.Nil(t, r.Exit)

	assert.Equal(t, uint64(pagedmem.PageSize), st.Registers[0])
	assert.Equal(t, uint64(3), st.Memory.MappedPageCount())
	assert.Equal(t, pagedmem.ReadWrite, st.Memory.Mode(pagedmem.PageSize))
}

func TestStoreThenLoadRoundTrips(t *testing.T) {
	// The one-reg-one-imm shape carries a single register field, which
	// both computes the effective address and supplies/receives the
	// stored/loaded value (spec.md §4.3). A self-consistent round trip
	// therefore needs the value to double as its own address: r0 = 100
	// is both "store 100 at address 100" and, after the store, "load
	// from address 100 back into r0".
	st := newState()
	st.Memory.Allocate(0, pagedmem.ReadWrite)
	st.Registers[0] = 100

	storeD := decode(t, uint32(61)|uint32(0)<<8, 0) // store_u32 r0, 0
	r := executor.Step(storeD, st)
	require.Nil(t, r.Exit)
	assert.Equal(t, uint64(100), st.Registers[0], "store must not mutate the source register")

	loadD := decode(t, uint32(56)|uint32(0)<<8, 4) // load_u32 r0, 0
	r = executor.Step(loadD, st)
	require.Nil(t, r.Exit)
	assert.Equal(t, uint64(100), st.Registers[0])
}

func TestLoadFromUnmappedAddressPageFaults(t *testing.T) {
	st := newState()
	st.Registers[0] = 0x1000000
	word := uint32(56) | uint32(0)<<8 // load_u32 r0, 0
	d := decode(t, word, 0)
	r := executor.Step(d, st)
	require.NotNil(t, r.Exit)
	assert.Equal(t, executor.PageFault, r.Exit.Reason)
}

func TestJumpIndAlignsToFourByteBoundary(t *testing.T) {
	st := newState()
	st.Registers[0] = 10
	// jump_ind r0, 1 -> target = (10+1) &^ 3 = 8
	word := uint32(50) | uint32(0)<<8 | uint32(1)<<12
	d := decode(t, word, 0)
	r := executor.Step(d, st)
	require.Nil(t, r.Exit)
	assert.Equal(t, uint64(8), r.NextPC)
}

func TestLoadImm64SetsRegisterFromExtendedImmediate(t *testing.T) {
	st := newState()
	// load_imm_64 r0, 65535
	word := uint32(20) | uint32(0)<<8 | uint32(65535)<<16
	d := decode(t, word, 0)
	r := executor.Step(d, st)
	require.Nil(t, r.Exit)
	assert.Equal(t, uint64(65535), st.Registers[0])
}

func TestStoreImmWidths(t *testing.T) {
	// store_imm_u8/16/32/64: address is registers[reg] alone (the
	// immediate field carries the value, not an offset).
	cases := []struct {
		name   string
		opcode byte
		width  int
		imm    uint32
		want   []byte
	}{
		{"u8", 30, 1, 0xAB, []byte{0xAB}},
		{"u16", 31, 2, 0x1234, []byte{0x34, 0x12}},
		{"u32", 32, 4, 0xCAFE, []byte{0xFE, 0xCA, 0x00, 0x00}},
		{"u64", 33, 8, 0xFF, []byte{0xFF, 0, 0, 0, 0, 0, 0, 0}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			st := newState()
			st.Memory.Allocate(0, pagedmem.ReadWrite)
			st.Registers[0] = 0

			word := uint32(c.opcode) | uint32(0)<<8 | c.imm<<12
			d := decode(t, word, 0)
			r := executor.Step(d, st)
			require.Nil(t, r.Exit)

			got, err := st.Memory.Read(0, uint64(c.width))
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestBitManipulationFamily(t *testing.T) {
	cases := []struct {
		name   string
		opcode byte
		src    uint64
		want   uint64
	}{
		{"count_set_bits", 102, 0b1011, 3},
		{"leading_zero_bits", 103, 1, 63},
		{"trailing_zero_bits", 104, 0b1000, 3},
		{"sign_extend_8", 105, 0x80, 0xFFFFFFFFFFFFFF80},
		{"sign_extend_16", 106, 0x8000, 0xFFFFFFFFFFFF8000},
		{"sign_extend_32", 107, 0x80000000, 0xFFFFFFFF80000000},
		{"zero_extend_8", 108, 0xFFFF, 0xFF},
		{"zero_extend_16", 109, 0xFFFFFF, 0xFFFF},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			st := newState()
			st.Registers[1] = c.src
			// op r0, r1 -> dst=r0, src=r1
			word := uint32(c.opcode) | uint32(0)<<8 | uint32(1)<<12
			d := decode(t, word, 0)
			r := executor.Step(d, st)
			require.Nil(t, r.Exit)
			assert.Equal(t, c.want, st.Registers[0])
		})
	}
}

func TestRotateLeftAndRight(t *testing.T) {
	st := newState()
	st.Registers[0] = 1
	st.Registers[1] = 1
	// rotate_left r0, r1, r2 -> dst=r2 gets Registers[0] rotated left by Registers[1]
	word := uint32(110) | uint32(0)<<8 | uint32(1)<<12 | uint32(2)<<16
	d := decode(t, word, 0)
	r := executor.Step(d, st)
	require.Nil(t, r.Exit)
	assert.Equal(t, uint64(2), st.Registers[2])

	st2 := newState()
	st2.Registers[0] = 1
	st2.Registers[1] = 1
	// rotate_right r0, r1, r2
	word2 := uint32(111) | uint32(0)<<8 | uint32(1)<<12 | uint32(2)<<16
	d2 := decode(t, word2, 0)
	r2 := executor.Step(d2, st2)
	require.Nil(t, r2.Exit)
	assert.Equal(t, uint64(1)<<63, st2.Registers[2])
}

func TestShiftFamily(t *testing.T) {
	cases := []struct {
		name   string
		opcode byte
		a, b   uint64
		want   uint64
	}{
		{"shl_32", 197, 1, 31, 0xFFFFFFFF80000000}, // 1<<31 sign-extends to 64 bits
		{"shr_u_32", 198, 0x80000000, 31, 1},
		{"shr_s_32", 199, 0x80000000, 31, 0xFFFFFFFFFFFFFFFF},
		{"shl_64", 207, 1, 63, 1 << 63},
		{"shr_u_64", 208, 1 << 63, 63, 1},
		{"shr_s_64", 209, 1 << 63, 63, 0xFFFFFFFFFFFFFFFF},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			st := newState()
			st.Registers[0] = c.a
			st.Registers[1] = c.b
			// op r0, r1, r2 -> src1=r0, src2=r1, dst=r2
			word := uint32(c.opcode) | uint32(0)<<8 | uint32(1)<<12 | uint32(2)<<16
			d := decode(t, word, 0)
			r := executor.Step(d, st)
			require.Nil(t, r.Exit)
			assert.Equal(t, c.want, st.Registers[2])
		})
	}
}

func TestBitwiseAndComparisonFamily(t *testing.T) {
	cases := []struct {
		name   string
		opcode byte
		a, b   uint64
		want   uint64
	}{
		{"and_64", 210, 0xF0, 0x0F, 0},
		{"or_64", 211, 0xF0, 0x0F, 0xFF},
		{"xor_64", 212, 0xFF, 0x0F, 0xF0},
		{"cmp_eq_true", 213, 2, 2, 1},
		{"cmp_eq_false", 213, 1, 2, 0},
		{"cmp_ne_true", 214, 1, 2, 1},
		{"cmp_ne_false", 214, 2, 2, 0},
		{"cmp_lt_u_true", 215, 1, 2, 1},
		{"cmp_lt_u_unsigned_not_signed", 215, 0xFFFFFFFFFFFFFFFF, 1, 0},
		{"cmp_lt_s_true", 216, uint64(int64(-2)), 1, 1},
		{"cmp_le_u_equal", 217, 2, 2, 1},
		{"cmp_le_s_true", 218, uint64(int64(-1)), 2, 1},
		{"cmp_ge_s_true", 219, uint64(int64(-1)), uint64(int64(-2)), 1},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			st := newState()
			st.Registers[0] = c.a
			st.Registers[1] = c.b
			// op r0, r1, r2 -> src1=r0, src2=r1, dst=r2
			word := uint32(c.opcode) | uint32(0)<<8 | uint32(1)<<12 | uint32(2)<<16
			d := decode(t, word, 0)
			r := executor.Step(d, st)
			require.Nil(t, r.Exit)
			assert.Equal(t, c.want, st.Registers[2])
		})
	}
}
