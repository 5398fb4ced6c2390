// Package chunk stores prototype trees as chunk images: canonical CBOR
// with a format version and a SHA-256 content hash. Decoding validates
// the tree, so a prototype loaded from an image never faults the VM on an
// unknown opcode.
package chunk

import "github.com/chazu/moonvm/vm"

// FormatVersion is the image layout version written by Marshal.
const FormatVersion = 1

// Image is the outer envelope of a chunk file.
type Image struct {
	Version uint8    `cbor:"1,keyasint"`
	Hash    [32]byte `cbor:"2,keyasint"` // SHA-256 of Body
	Body    []byte   `cbor:"3,keyasint"` // canonical CBOR of the main prototype
}

// Constant kinds.
const (
	constNil uint8 = iota
	constBool
	constNumber
	constString
)

type protoRecord struct {
	Source          string          `cbor:"1,keyasint,omitempty"`
	LineDefined     int             `cbor:"2,keyasint"`
	LastLineDefined int             `cbor:"3,keyasint"`
	NumParams       int             `cbor:"4,keyasint"`
	IsVararg        bool            `cbor:"5,keyasint"`
	MaxStack        int             `cbor:"6,keyasint"`
	Code            []uint32        `cbor:"7,keyasint"`
	Constants       []constRecord   `cbor:"8,keyasint,omitempty"`
	Upvalues        []upvalueRecord `cbor:"9,keyasint,omitempty"`
	Protos          []protoRecord   `cbor:"10,keyasint,omitempty"`
	LineInfo        []int32         `cbor:"11,keyasint,omitempty"`
	LocVars         []locVarRecord  `cbor:"12,keyasint,omitempty"`
}

// constRecord holds one constant. Strings travel as byte strings since
// Lua strings need not be UTF-8.
type constRecord struct {
	Kind  uint8   `cbor:"1,keyasint"`
	Bool  bool    `cbor:"2,keyasint,omitempty"`
	Num   float64 `cbor:"3,keyasint,omitempty"`
	Bytes []byte  `cbor:"4,keyasint,omitempty"`
}

type upvalueRecord struct {
	Name    string `cbor:"1,keyasint,omitempty"`
	InStack bool   `cbor:"2,keyasint"`
	Index   int    `cbor:"3,keyasint"`
}

type locVarRecord struct {
	Name    string `cbor:"1,keyasint"`
	StartPC int    `cbor:"2,keyasint"`
	EndPC   int    `cbor:"3,keyasint"`
}

func fromProto(p *vm.Prototype) (protoRecord, error) {
	rec := protoRecord{
		Source:          p.Source,
		LineDefined:     p.LineDefined,
		LastLineDefined: p.LastLineDefined,
		NumParams:       p.NumParams,
		IsVararg:        p.IsVararg,
		MaxStack:        p.MaxStack,
		Code:            make([]uint32, len(p.Code)),
		LineInfo:        p.LineInfo,
	}
	for i, ins := range p.Code {
		rec.Code[i] = uint32(ins)
	}
	for i, k := range p.Constants {
		var c constRecord
		switch k := k.(type) {
		case nil:
			c.Kind = constNil
		case vm.Bool:
			c.Kind, c.Bool = constBool, bool(k)
		case vm.Number:
			c.Kind, c.Num = constNumber, float64(k)
		case *vm.String:
			c.Kind, c.Bytes = constString, []byte(k.String())
		default:
			return rec, errorf("constant %d: cannot encode %s", i, vm.TypeName(k))
		}
		rec.Constants = append(rec.Constants, c)
	}
	for _, uv := range p.Upvalues {
		rec.Upvalues = append(rec.Upvalues, upvalueRecord(uv))
	}
	for _, lv := range p.LocVars {
		rec.LocVars = append(rec.LocVars, locVarRecord(lv))
	}
	for _, child := range p.Protos {
		cr, err := fromProto(child)
		if err != nil {
			return rec, err
		}
		rec.Protos = append(rec.Protos, cr)
	}
	return rec, nil
}

func (rec *protoRecord) toProto() (*vm.Prototype, error) {
	p := &vm.Prototype{
		Source:          rec.Source,
		LineDefined:     rec.LineDefined,
		LastLineDefined: rec.LastLineDefined,
		NumParams:       rec.NumParams,
		IsVararg:        rec.IsVararg,
		MaxStack:        rec.MaxStack,
		Code:            make([]vm.Instruction, len(rec.Code)),
		LineInfo:        rec.LineInfo,
	}
	for i, w := range rec.Code {
		p.Code[i] = vm.Instruction(w)
	}
	for i, c := range rec.Constants {
		switch c.Kind {
		case constNil:
			p.Constants = append(p.Constants, nil)
		case constBool:
			p.Constants = append(p.Constants, vm.Bool(c.Bool))
		case constNumber:
			p.Constants = append(p.Constants, vm.Number(c.Num))
		case constString:
			p.Constants = append(p.Constants, vm.NewString(string(c.Bytes)))
		default:
			return nil, errorf("constant %d: unknown kind %d", i, c.Kind)
		}
	}
	for _, uv := range rec.Upvalues {
		p.Upvalues = append(p.Upvalues, vm.UpvalueDesc(uv))
	}
	for _, lv := range rec.LocVars {
		p.LocVars = append(p.LocVars, vm.LocVar(lv))
	}
	for i := range rec.Protos {
		child, err := rec.Protos[i].toProto()
		if err != nil {
			return nil, err
		}
		p.Protos = append(p.Protos, child)
	}
	return p, nil
}
