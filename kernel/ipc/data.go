package ipc

import (
	"context"

	"spartan/kernel"
	"spartan/kernel/errors"
)

// MaxDataTransfer is the payload cap for the data_read/data_write
// sub-protocols (spec §6 "payload limit 65536 bytes").
const MaxDataTransfer = 65536

// DataWrite implements the IPC_M_DATA_WRITE sub-protocol: the caller sends
// a MethodDataWrite call whose payload travels out of band (this
// simulation passes it directly rather than through the six-word
// encoding, since there is no shared physical memory to point the sixth
// word at). The receiver answers with the number of bytes it accepted.
func DataWrite(ctx context.Context, phone *Phone, callerBox *Answerbox, payload []byte) *kernel.Error {
	if len(payload) > MaxDataTransfer {
		return errors.ErrOverflow
	}
	args := Args{IMethod: MethodDataWrite, Arg1: uint64(len(payload))}
	_, err := phone.CallSync(ctx, callerBox, args)
	return err
}

// DataRead implements the IPC_M_DATA_READ sub-protocol: the caller asks
// for up to len bytes and the handler answers with how many bytes it
// actually produced via the answer's Arg1.
func DataRead(ctx context.Context, phone *Phone, callerBox *Answerbox, length uint64) (uint64, *kernel.Error) {
	if length > MaxDataTransfer {
		return 0, errors.ErrOverflow
	}
	args := Args{IMethod: MethodDataRead, Arg1: length}
	reply, err := phone.CallSync(ctx, callerBox, args)
	if err != nil {
		return 0, err
	}
	return reply.Arg1, nil
}
