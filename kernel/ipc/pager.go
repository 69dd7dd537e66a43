package ipc

import (
	"context"

	"spartan/kernel"
	"spartan/kernel/mem/as"
)

// NewPager adapts a Phone connected to a user pager task into the
// as.Pager function shape as.UserPagerBackend.Call expects, implementing
// spec §6's MethodPageIn over the sync call path: offset and length are
// packed into Arg1/Arg2, the correlation ids into Arg3-Arg5, and the
// pager's answer is expected to carry the serviced physical address back
// in Arg1.
func NewPager(phone *Phone, callerBox *Answerbox) as.Pager {
	return func(offset, length, id1, id2, id3 uint64) (uintptr, *kernel.Error) {
		args := Args{
			IMethod: MethodPageIn,
			Arg1:    offset,
			Arg2:    length,
			Arg3:    id1,
			Arg4:    id2,
			Arg5:    id3,
		}
		reply, err := phone.CallSync(context.Background(), callerBox, args)
		if err != nil {
			return 0, err
		}
		return uintptr(reply.Arg1), nil
	}
}
