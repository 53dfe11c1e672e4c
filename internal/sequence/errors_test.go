package sequence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("masters missing")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "init",
			err:  &InitError{Block: "calibrate", Err: cause},
			want: `sequence: initialize block "calibrate": masters missing`,
		},
		{
			name: "apply",
			err:  &ApplyError{Block: "detect", FrameID: "img1", Err: cause},
			want: `sequence: block "detect" failed on frame "img1": masters missing`,
		},
		{
			name: "load",
			err:  &LoadError{FrameID: "img1", Err: cause},
			want: `sequence: load frame "img1": masters missing`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			assert.ErrorIs(t, tt.err, cause)
		})
	}
}
