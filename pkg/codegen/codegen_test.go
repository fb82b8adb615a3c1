package codegen_test

import (
	"bytes"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/akhildatla/cyclone/pkg/codegen"
	"github.com/akhildatla/cyclone/pkg/compiler"
	"github.com/akhildatla/cyclone/pkg/vm"
)

var _ = Describe("Emitter", func() {
	Context("Supported subset", func() {
		It("should lower nop, mov, jmp and hlt", func() {
			p := compiler.MustCompile(`start:
    NOP
    MOV rax, 5
    MOV rbx, rax
    JMP end
end:
    HLT`)

			out, err := codegen.Compile(p)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal("start:\n" +
				"    nop\n" +
				"    mov rax, 0x5\n" +
				"    mov rbx, rax\n" +
				"    jmp end\n" +
				"end:\n" +
				"    hlt\n"))
		})

		It("should render integral immediates as hex", func() {
			p := vm.NewBuilder().Emit(
				vm.Mov(vm.RAX, vm.Imm(255)),
				vm.Mov(vm.R8, vm.Imm(-16)),
				vm.Mov(vm.R15, vm.Imm(0)),
				vm.Hlt(),
			).Program()

			out, err := codegen.Compile(p)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("mov rax, 0xff\n"))
			Expect(out).To(ContainSubstring("mov r8, -0x10\n"))
			Expect(out).To(ContainSubstring("mov r15, 0x0\n"))
		})

		It("should allow a label as a mov source", func() {
			p := vm.NewBuilder().Label("here").Emit(vm.Mov(vm.RSI, vm.LabelRef("here")), vm.Hlt()).Program()

			out, err := codegen.Compile(p)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("mov rsi, here\n"))
		})

		It("should stop at the first hlt", func() {
			p := vm.NewBuilder().
				Emit(vm.Hlt()).
				Label("after").
				Emit(vm.Push(vm.Imm(1))).
				Program()

			out, err := codegen.Compile(p)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal("    hlt\n"))
		})

		It("should emit trailing labels when there is no hlt", func() {
			p := vm.NewBuilder().Emit(vm.Jmp("end")).Label("end").Program()

			out, err := codegen.Compile(p)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal("    jmp end\nend:\n"))
		})

		It("should emit only the first binding of a duplicate label", func() {
			p := &vm.Program{
				Code:   []vm.Instruction{vm.Nop(), vm.Hlt()},
				Labels: []vm.Label{{Name: "a", ID: 0, Target: 0}, {Name: "a", ID: 1, Target: 1}},
			}

			out, err := codegen.Compile(p)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal("a:\n    nop\n    hlt\n"))
		})

		It("should emit nothing for an empty program", func() {
			out, err := codegen.Compile(&vm.Program{})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(BeEmpty())
		})
	})

	Context("Unsupported input", func() {
		It("should reject opcodes without a lowering", func() {
			for _, inst := range []vm.Instruction{
				vm.Push(vm.Imm(1)),
				vm.Add(vm.RAX, vm.Imm(1)),
				vm.Cmp(vm.Reg(vm.RAX), vm.Imm(1)),
				vm.Call("f"),
				vm.Ret(),
			} {
				p := vm.NewBuilder().Emit(inst, vm.Hlt()).Program()
				_, err := codegen.Compile(p)
				Expect(err).To(MatchError(codegen.ErrUnsupportedOpcode))
				Expect(err.Error()).To(ContainSubstring("ip=0"))
			}
		})

		It("should reject non-integral immediates", func() {
			for _, x := range []float64{2.5, math.NaN(), math.Inf(1), 1e20} {
				p := vm.NewBuilder().Emit(vm.Mov(vm.RAX, vm.Imm(x)), vm.Hlt()).Program()
				_, err := codegen.Compile(p)
				Expect(err).To(MatchError(codegen.ErrUnsupportedOperand))
			}
		})

		It("should reject malformed operands", func() {
			bad := []vm.Instruction{
				vm.NewInstruction(vm.OpMov, vm.Imm(1), vm.Reg(vm.RAX)),
				vm.NewInstruction(vm.OpJmp, vm.Reg(vm.RAX), vm.None()),
				vm.NewInstruction(vm.OpMov, vm.Reg(vm.RAX), vm.None()),
			}
			for _, inst := range bad {
				p := vm.NewBuilder().Emit(inst).Program()
				_, err := codegen.Compile(p)
				Expect(err).To(MatchError(codegen.ErrUnsupportedOperand))
			}
		})

		It("should write nothing when lowering fails", func() {
			p := vm.NewBuilder().Emit(vm.Nop(), vm.Pop(vm.RAX), vm.Hlt()).Program()

			var buf bytes.Buffer
			err := codegen.New().Emit(&buf, p)
			Expect(err).To(HaveOccurred())
			Expect(buf.Len()).To(BeZero())
		})

		It("should reject a nil program", func() {
			_, err := codegen.Compile(nil)
			Expect(err).To(MatchError(vm.ErrNilProgram))
		})
	})

	Context("Targets", func() {
		var p *vm.Program

		BeforeEach(func() {
			p = vm.NewBuilder().Emit(vm.Mov(vm.RAX, vm.Imm(1)), vm.Hlt()).Program()
		})

		It("should emit a windows prologue", func() {
			out, err := codegen.Compile(p, codegen.WithPrologue(true))
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HavePrefix("bits 64\ndefault rel\n\nsection .text\nglobal main\n\nmain:\n"))
			Expect(out).To(HaveSuffix("    hlt\n"))
		})

		It("should exit through a syscall on linux", func() {
			out, err := codegen.Compile(p,
				codegen.WithTarget(codegen.TargetLinuxX86_64),
				codegen.WithPrologue(true))
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("global _start\n"))
			Expect(out).To(ContainSubstring("    syscall\n"))
			Expect(out).NotTo(ContainSubstring("hlt"))
		})

		It("should parse target names", func() {
			t, err := codegen.ParseTarget("LINUX-X86_64")
			Expect(err).NotTo(HaveOccurred())
			Expect(t).To(Equal(codegen.TargetLinuxX86_64))

			_, err = codegen.ParseTarget("arm64")
			Expect(err).To(MatchError(codegen.ErrUnknownTarget))
		})

		It("should reject an unknown target", func() {
			_, err := codegen.Compile(p, codegen.WithTarget("riscv"))
			Expect(err).To(MatchError(codegen.ErrUnknownTarget))
		})
	})
})
