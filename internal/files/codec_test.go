package files

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestDecodeControl(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Control
	}{
		{
			name: "listdir",
			in:   `{"code":1}`,
			want: ListDir{},
		},
		{
			name: "mkdir",
			in:   `{"code":2,"params":{"name":"logs"}}`,
			want: Mkdir{Name: "logs"},
		},
		{
			name: "mkfile",
			in:   `{"code":3,"params":{"name":"a.txt"}}`,
			want: Mkfile{Name: "a.txt"},
		},
		{
			name: "rename",
			in:   `{"code":4,"params":{"old_name":"a","new_name":"b"}}`,
			want: Rename{OldName: "a", NewName: "b"},
		},
		{
			name: "delete of plain file",
			in:   `{"code":5,"params":{"filename":"a","is_dir":"false"}}`,
			want: Delete{Filename: "a", IsDir: false},
		},
		{
			name: "delete string true",
			in:   `{"code":5,"params":{"filename":"d","is_dir":"true"}}`,
			want: Delete{Filename: "d", IsDir: true},
		},
		{
			name: "delete boolean false still means directory",
			in:   `{"code":5,"params":{"filename":"d","is_dir":false}}`,
			want: Delete{Filename: "d", IsDir: true},
		},
		{
			name: "delete without is_dir",
			in:   `{"code":5,"params":{"filename":"d"}}`,
			want: Delete{Filename: "d", IsDir: true},
		},
		{
			name: "cwd up",
			in:   `{"code":6,"params":{}}`,
			want: Cwd{},
		},
		{
			name: "cwd into",
			in:   `{"code":6,"params":{"dir_name":"sub"}}`,
			want: Cwd{DirName: "sub"},
		},
		{
			name: "upload",
			in:   `{"code":7,"params":{"origin_path":"/local/x","filename":"x"}}`,
			want: Upload{OriginPath: "/local/x", Filename: "x"},
		},
		{
			name: "download",
			in:   `{"code":8,"params":{"filename":"x"}}`,
			want: Download{Filename: "x"},
		},
		{
			name: "finish",
			in:   `{"code":9}`,
			want: Finish{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeControl([]byte(tt.in))
			if err != nil {
				t.Fatalf("DecodeControl: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeControlUnknownCode(t *testing.T) {
	_, err := DecodeControl([]byte(`{"code":42}`))
	if !errors.Is(err, ErrUnsupportedOp) {
		t.Errorf("err = %v, want ErrUnsupportedOp", err)
	}
}

func TestDecodeControlMalformed(t *testing.T) {
	if _, err := DecodeControl([]byte(`not json`)); err == nil {
		t.Error("want error on malformed frame")
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		opcode byte
		header map[string]interface{}
		data   []byte
	}{
		{
			name:   "typical",
			opcode: 7,
			header: map[string]interface{}{"filename": "x.bin", "seq": float64(3)},
			data:   []byte("payload bytes"),
		},
		{
			name:   "empty header and data",
			opcode: 0,
			header: map[string]interface{}{},
			data:   nil,
		},
		{
			name:   "binary data with separator-looking bytes",
			opcode: 255,
			header: map[string]interface{}{"k": "v"},
			data:   []byte{0, 1, 2, '{', '}', 0xFF},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Pack(tt.opcode, tt.header, tt.data)
			if err != nil {
				t.Fatalf("Pack: %v", err)
			}
			op, hdr, data, err := Unpack(frame)
			if err != nil {
				t.Fatalf("Unpack: %v", err)
			}
			if op != tt.opcode {
				t.Errorf("opcode = %d, want %d", op, tt.opcode)
			}
			if !reflect.DeepEqual(hdr, tt.header) {
				t.Errorf("header = %#v, want %#v", hdr, tt.header)
			}
			want := tt.data
			if want == nil {
				want = []byte{}
			}
			if !bytes.Equal(data, want) {
				t.Errorf("data = %v, want %v", data, want)
			}
		})
	}
}

func TestUnpackRejectsTruncatedFrames(t *testing.T) {
	for _, frame := range [][]byte{
		nil,
		{1},
		{1, 0},
		{1, 0, 10, '{', '}'}, // header claims 10 bytes, only 2 present
	} {
		if _, _, _, err := Unpack(frame); err == nil {
			t.Errorf("Unpack(%v) succeeded, want error", frame)
		}
	}
}

func TestPackRejectsOversizedHeader(t *testing.T) {
	big := map[string]interface{}{"k": string(make([]byte, 1<<17))}
	if _, err := Pack(1, big, nil); err == nil {
		t.Error("want error for header above 64 KiB")
	}
}
