//go:build windows

package windbg

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")
	modntdll    = windows.NewLazySystemDLL("ntdll.dll")

	procDebugActiveProcess        = modkernel32.NewProc("DebugActiveProcess")
	procDebugActiveProcessStop    = modkernel32.NewProc("DebugActiveProcessStop")
	procDebugSetProcessKillOnExit = modkernel32.NewProc("DebugSetProcessKillOnExit")
	procWaitForDebugEvent         = modkernel32.NewProc("WaitForDebugEvent")
	procContinueDebugEvent        = modkernel32.NewProc("ContinueDebugEvent")
	procFlushInstructionCache     = modkernel32.NewProc("FlushInstructionCache")
	procGetThreadContext          = modkernel32.NewProc("GetThreadContext")
	procSetThreadContext          = modkernel32.NewProc("SetThreadContext")
	procWow64GetThreadContext     = modkernel32.NewProc("Wow64GetThreadContext")
	procWow64SetThreadContext     = modkernel32.NewProc("Wow64SetThreadContext")
	procNtSuspendProcess          = modntdll.NewProc("NtSuspendProcess")
	procNtResumeProcess           = modntdll.NewProc("NtResumeProcess")
)

// Debug event codes.
const (
	exceptionDebugEvent     = 1
	createThreadDebugEvent  = 2
	createProcessDebugEvent = 3
	exitThreadDebugEvent    = 4
	exitProcessDebugEvent   = 5
	loadDLLDebugEvent       = 6
	unloadDLLDebugEvent     = 7
)

// Continue statuses.
const (
	dbgContinue            = 0x00010002
	dbgExceptionNotHandled = 0x80010001
)

// debugEvent is DEBUG_EVENT. The union is declared as uint64 words so it
// lands on the same alignment as in C for both 386 and amd64.
type debugEvent struct {
	Code      uint32
	ProcessID uint32
	ThreadID  uint32
	U         [20]uint64
}

type exceptionRecord struct {
	ExceptionCode        uint32
	ExceptionFlags       uint32
	ExceptionRecord      uintptr
	ExceptionAddress     uintptr
	NumberParameters     uint32
	ExceptionInformation [15]uintptr
}

type exceptionDebugInfo struct {
	Record      exceptionRecord
	FirstChance uint32
}

type createThreadDebugInfo struct {
	Thread      windows.Handle
	ThreadLocal uintptr
	StartAddr   uintptr
}

type createProcessDebugInfo struct {
	File            windows.Handle
	Process         windows.Handle
	Thread          windows.Handle
	BaseOfImage     uintptr
	DebugInfoOffset uint32
	DebugInfoSize   uint32
	ThreadLocal     uintptr
	StartAddr       uintptr
	ImageName       uintptr
	Unicode         uint16
}

type exitProcessDebugInfo struct {
	ExitCode uint32
}

type loadDLLDebugInfo struct {
	File            windows.Handle
	BaseOfDLL       uintptr
	DebugInfoOffset uint32
	DebugInfoSize   uint32
	ImageName       uintptr
	Unicode         uint16
}

type unloadDLLDebugInfo struct {
	BaseOfDLL uintptr
}

func (ev *debugEvent) exception() *exceptionDebugInfo {
	return (*exceptionDebugInfo)(unsafe.Pointer(&ev.U[0]))
}

func (ev *debugEvent) createThread() *createThreadDebugInfo {
	return (*createThreadDebugInfo)(unsafe.Pointer(&ev.U[0]))
}

func (ev *debugEvent) createProcess() *createProcessDebugInfo {
	return (*createProcessDebugInfo)(unsafe.Pointer(&ev.U[0]))
}

func (ev *debugEvent) exitProcess() *exitProcessDebugInfo {
	return (*exitProcessDebugInfo)(unsafe.Pointer(&ev.U[0]))
}

func (ev *debugEvent) loadDLL() *loadDLLDebugInfo {
	return (*loadDLLDebugInfo)(unsafe.Pointer(&ev.U[0]))
}

func (ev *debugEvent) unloadDLL() *unloadDLLDebugInfo {
	return (*unloadDLLDebugInfo)(unsafe.Pointer(&ev.U[0]))
}

func boolCall(p *windows.LazyProc, args ...uintptr) error {
	r1, _, err := p.Call(args...)
	if r1 == 0 {
		return err
	}
	return nil
}

func ntCall(p *windows.LazyProc, args ...uintptr) error {
	r1, _, _ := p.Call(args...)
	if r1 != 0 {
		return windows.NTStatus(r1)
	}
	return nil
}

func debugActiveProcess(pid uint32) error {
	return boolCall(procDebugActiveProcess, uintptr(pid))
}

func debugActiveProcessStop(pid uint32) error {
	return boolCall(procDebugActiveProcessStop, uintptr(pid))
}

func debugSetProcessKillOnExit(kill bool) error {
	var v uintptr
	if kill {
		v = 1
	}
	return boolCall(procDebugSetProcessKillOnExit, v)
}

func waitForDebugEvent(ev *debugEvent, timeoutMs uint32) error {
	return boolCall(procWaitForDebugEvent, uintptr(unsafe.Pointer(ev)), uintptr(timeoutMs))
}

func continueDebugEvent(pid, tid, status uint32) error {
	return boolCall(procContinueDebugEvent, uintptr(pid), uintptr(tid), uintptr(status))
}

func flushInstructionCache(process windows.Handle, addr uintptr, size uintptr) error {
	return boolCall(procFlushInstructionCache, uintptr(process), addr, size)
}

func ntSuspendProcess(process windows.Handle) error {
	return ntCall(procNtSuspendProcess, uintptr(process))
}

func ntResumeProcess(process windows.Handle) error {
	return ntCall(procNtResumeProcess, uintptr(process))
}

// nativeX86 is true when this binary is itself 32-bit, in which case the
// regular thread context calls use the x86 layout.
var nativeX86 = runtime.GOARCH == "386"

func getThreadContext(thread windows.Handle, ctx *x86Context) error {
	ctx.ContextFlags = contextControl | contextInteger
	p := procWow64GetThreadContext
	if nativeX86 {
		p = procGetThreadContext
	}
	return boolCall(p, uintptr(thread), uintptr(unsafe.Pointer(ctx)))
}

func setThreadContext(thread windows.Handle, ctx *x86Context) error {
	ctx.ContextFlags = contextControl | contextInteger
	p := procWow64SetThreadContext
	if nativeX86 {
		p = procSetThreadContext
	}
	return boolCall(p, uintptr(thread), uintptr(unsafe.Pointer(ctx)))
}
