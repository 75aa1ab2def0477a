package wire

import (
	"fmt"

	pb "github.com/lmatte7/gomesh/github.com/meshtastic/gomeshproto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// AdminKind names the oneof member of an AdminMessage. Its value is the
// member's field number.
type AdminKind uint32

const (
	AdminGetChannelRequest        AdminKind = 1
	AdminGetChannelResponse       AdminKind = 2
	AdminGetOwnerRequest          AdminKind = 3
	AdminGetOwnerResponse         AdminKind = 4
	AdminGetConfigRequest         AdminKind = 5
	AdminGetConfigResponse        AdminKind = 6
	AdminGetModuleConfigRequest   AdminKind = 7
	AdminGetModuleConfigResponse  AdminKind = 8
	AdminGetDeviceMetadataRequest AdminKind = 12
	AdminGetDeviceMetadataResp    AdminKind = 13
	AdminSetOwner                 AdminKind = 32
	AdminSetChannel               AdminKind = 33
	AdminSetConfig                AdminKind = 34
	AdminSetModuleConfig          AdminKind = 35
	AdminRemoveByNodeNum          AdminKind = 38
	AdminSetFavoriteNode          AdminKind = 39
	AdminRemoveFavoriteNode       AdminKind = 40
	AdminSetFixedPosition         AdminKind = 41
	AdminRemoveFixedPosition      AdminKind = 42
	AdminSetTimeOnly              AdminKind = 43
	AdminSetIgnoredNode           AdminKind = 47
	AdminRemoveIgnoredNode        AdminKind = 48
	AdminBeginEditSettings        AdminKind = 64
	AdminCommitEditSettings       AdminKind = 65
	AdminFactoryResetDevice       AdminKind = 94
	AdminRebootOTASeconds         AdminKind = 95
	AdminRebootSeconds            AdminKind = 97
	AdminShutdownSeconds          AdminKind = 98
	AdminFactoryResetConfig       AdminKind = 99
	AdminNodeDBReset              AdminKind = 100
)

const adminSessionPasskeyField = 101

var adminBoolKinds = map[AdminKind]bool{
	AdminGetOwnerRequest:          true,
	AdminGetDeviceMetadataRequest: true,
	AdminRemoveFixedPosition:      true,
	AdminBeginEditSettings:        true,
	AdminCommitEditSettings:       true,
	AdminNodeDBReset:              true,
}

func (k AdminKind) String() string {
	return fmt.Sprintf("admin_%d", uint32(k))
}

// AdminMessage is the ADMIN_APP payload. Scalar members (channel index+1,
// config type, node number, seconds, flags) travel in Value; message
// members use the matching pointer field.
type AdminMessage struct {
	Kind           AdminKind
	Value          uint32
	Channel        *Channel
	User           *User
	Config         *Config
	ModuleConfig   *ModuleConfig
	Metadata       *DeviceMetadata
	Position       *Position
	SessionPasskey []byte
}

// Flag reports a boolean member as true.
func (m *AdminMessage) Flag() bool { return m.Value != 0 }

func (m *AdminMessage) toPB() *pb.AdminMessage {
	p := &pb.AdminMessage{}
	num := protoNum(uint32(m.Kind))
	switch m.Kind {
	case 0:
	case AdminGetChannelResponse:
		p.PayloadVariant = &pb.AdminMessage_GetChannelResponse{GetChannelResponse: orEmpty(m.Channel.toPB())}
	case AdminSetChannel:
		p.PayloadVariant = &pb.AdminMessage_SetChannel{SetChannel: orEmpty(m.Channel.toPB())}
	case AdminGetOwnerResponse:
		p.PayloadVariant = &pb.AdminMessage_GetOwnerResponse{GetOwnerResponse: orEmpty(m.User.toPB())}
	case AdminSetOwner:
		p.PayloadVariant = &pb.AdminMessage_SetOwner{SetOwner: orEmpty(m.User.toPB())}
	case AdminGetConfigResponse:
		p.PayloadVariant = &pb.AdminMessage_GetConfigResponse{GetConfigResponse: orEmpty(m.Config).toPB()}
	case AdminSetConfig:
		p.PayloadVariant = &pb.AdminMessage_SetConfig{SetConfig: orEmpty(m.Config).toPB()}
	case AdminGetModuleConfigResponse:
		p.PayloadVariant = &pb.AdminMessage_GetModuleConfigResponse{GetModuleConfigResponse: orEmpty(m.ModuleConfig).toPB()}
	case AdminSetModuleConfig:
		p.PayloadVariant = &pb.AdminMessage_SetModuleConfig{SetModuleConfig: orEmpty(m.ModuleConfig).toPB()}
	case AdminGetDeviceMetadataResp:
		p.PayloadVariant = &pb.AdminMessage_GetDeviceMetadataResponse{GetDeviceMetadataResponse: orEmpty(m.Metadata.toPB())}
	case AdminSetFixedPosition:
		attach(p, func(e *encoder) { e.embedded(num, m.Position.Marshal()) })
	case AdminSetTimeOnly:
		attach(p, func(e *encoder) { e.forceFixed32(num, m.Value) })
	default:
		r := p.ProtoReflect()
		if fd := r.Descriptor().Fields().ByNumber(num); fd != nil {
			if v, ok := adminScalar(fd, m.Value); ok {
				r.Set(fd, v)
				break
			}
		}
		attach(p, func(e *encoder) {
			if adminBoolKinds[m.Kind] {
				e.forceBool(num, m.Value != 0)
			} else {
				e.forceUvarint(num, uint64(m.Value))
			}
		})
	}
	attach(p, func(e *encoder) { e.bytes(adminSessionPasskeyField, m.SessionPasskey) })
	return p
}

// adminScalar converts Value into the scalar type the generated schema
// declares for fd.
func adminScalar(fd protoreflect.FieldDescriptor, v uint32) (protoreflect.Value, bool) {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return protoreflect.ValueOfBool(v != 0), true
	case protoreflect.EnumKind:
		return protoreflect.ValueOfEnum(protoreflect.EnumNumber(v)), true
	case protoreflect.Int32Kind:
		return protoreflect.ValueOfInt32(int32(v)), true
	case protoreflect.Uint32Kind:
		return protoreflect.ValueOfUint32(v), true
	}
	return protoreflect.Value{}, false
}

func adminValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) uint32 {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		if v.Bool() {
			return 1
		}
	case protoreflect.EnumKind:
		return uint32(v.Enum())
	case protoreflect.Int32Kind:
		return uint32(v.Int())
	case protoreflect.Uint32Kind:
		return uint32(v.Uint())
	}
	return 0
}

func adminFromPB(p *pb.AdminMessage) (*AdminMessage, error) {
	m := &AdminMessage{}
	var err error
	switch v := p.PayloadVariant.(type) {
	case nil:
	case *pb.AdminMessage_GetChannelResponse:
		m.Kind, m.Channel = AdminGetChannelResponse, channelFromPB(orEmpty(v.GetChannelResponse))
	case *pb.AdminMessage_SetChannel:
		m.Kind, m.Channel = AdminSetChannel, channelFromPB(orEmpty(v.SetChannel))
	case *pb.AdminMessage_GetOwnerResponse:
		m.Kind = AdminGetOwnerResponse
		m.User, err = userFromPB(orEmpty(v.GetOwnerResponse))
	case *pb.AdminMessage_SetOwner:
		m.Kind = AdminSetOwner
		m.User, err = userFromPB(orEmpty(v.SetOwner))
	case *pb.AdminMessage_GetConfigResponse:
		m.Kind = AdminGetConfigResponse
		m.Config, err = configFromPB(orEmpty(v.GetConfigResponse))
	case *pb.AdminMessage_SetConfig:
		m.Kind = AdminSetConfig
		m.Config, err = configFromPB(orEmpty(v.SetConfig))
	case *pb.AdminMessage_GetModuleConfigResponse:
		m.Kind = AdminGetModuleConfigResponse
		m.ModuleConfig, err = moduleConfigFromPB(orEmpty(v.GetModuleConfigResponse))
	case *pb.AdminMessage_SetModuleConfig:
		m.Kind = AdminSetModuleConfig
		m.ModuleConfig, err = moduleConfigFromPB(orEmpty(v.SetModuleConfig))
	case *pb.AdminMessage_GetDeviceMetadataResponse:
		m.Kind = AdminGetDeviceMetadataResp
		m.Metadata, err = deviceMetadataFromPB(orEmpty(v.GetDeviceMetadataResponse))
	default:
		r := p.ProtoReflect()
		if fd := r.WhichOneof(r.Descriptor().Oneofs().ByName("payload_variant")); fd != nil {
			m.Kind = AdminKind(fd.Number())
			m.Value = adminValue(fd, r.Get(fd))
		}
	}
	if err != nil {
		return nil, err
	}
	err = unknown("AdminMessage", p, func(f field) error {
		if f.num == adminSessionPasskeyField {
			m.SessionPasskey = f.bytes()
			return nil
		}
		m.Kind = AdminKind(f.num)
		if !f.isBytes() {
			m.Value = f.uint32()
			return nil
		}
		var err error
		if m.Kind == AdminSetFixedPosition {
			m.Position, err = sub[Position](f)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AdminMessage) Marshal() []byte {
	if m == nil {
		return nil
	}
	return encodePB(m.toPB())
}

func (m *AdminMessage) Unmarshal(b []byte) error {
	return unmarshalPB("AdminMessage", b, m, adminFromPB)
}
