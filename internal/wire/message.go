package wire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
)

// --- handshake (spec.md §4.5 steps 1-3) ---

// ClientRole is the role a client declares in its ClientHello.
type ClientRole uint32

const (
	RoleDeveloper ClientRole = iota
	RoleBuild
	RoleUi
)

type ServerHello struct {
	Magic   uint32
	Version uint32
}

func (m *ServerHello) WireType() Type { return TypeServerHello }
func (m *ServerHello) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.Magic))
	b = appendVarintField(b, 2, uint64(m.Version))
	return b
}
func (m *ServerHello) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		switch n {
		case 1:
			m.Magic = uint32(varintFrom(v))
		case 2:
			m.Version = uint32(varintFrom(v))
		}
		return nil
	})
}

type ClientHello struct {
	Magic    uint32
	Version  uint32
	Role     ClientRole
	Hostname string
	UUID     string
}

func (m *ClientHello) WireType() Type { return TypeClientHello }
func (m *ClientHello) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.Magic))
	b = appendVarintField(b, 2, uint64(m.Version))
	b = appendVarintField(b, 3, uint64(m.Role))
	b = appendStringField(b, 4, m.Hostname)
	b = appendStringField(b, 5, m.UUID)
	return b
}
func (m *ClientHello) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		switch n {
		case 1:
			m.Magic = uint32(varintFrom(v))
		case 2:
			m.Version = uint32(varintFrom(v))
		case 3:
			m.Role = ClientRole(varintFrom(v))
		case 4:
			m.Hostname = stringFrom(v)
		case 5:
			m.UUID = stringFrom(v)
		}
		return nil
	})
}

type DevInfo struct {
	Arch string
}

func (m *DevInfo) WireType() Type { return TypeDevInfo }
func (m *DevInfo) Marshal() []byte {
	return appendStringField(nil, 1, m.Arch)
}
func (m *DevInfo) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		if n == 1 {
			m.Arch = stringFrom(v)
		}
		return nil
	})
}

type BuildInfo struct {
	CPUCount  uint32
	CPUSpeed  uint32
	RAMMB     uint32
	NumChains uint32
}

func (m *BuildInfo) WireType() Type { return TypeBuildInfo }
func (m *BuildInfo) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.CPUCount))
	b = appendVarintField(b, 2, uint64(m.CPUSpeed))
	b = appendVarintField(b, 3, uint64(m.RAMMB))
	b = appendVarintField(b, 4, uint64(m.NumChains))
	return b
}
func (m *BuildInfo) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		switch n {
		case 1:
			m.CPUCount = uint32(varintFrom(v))
		case 2:
			m.CPUSpeed = uint32(varintFrom(v))
		case 3:
			m.RAMMB = uint32(varintFrom(v))
		case 4:
			m.NumChains = uint32(varintFrom(v))
		}
		return nil
	})
}

type AddCompiler struct {
	Name      string
	Type      string // "GNU", "Clang", "Yosys", "ISE", "Vivado"
	Major     uint32
	Minor     uint32
	Patch     uint32
	Version   string
	Languages []string
	Triplets  []string
}

func (m *AddCompiler) WireType() Type { return TypeAddCompiler }
func (m *AddCompiler) Marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, m.Name)
	b = appendStringField(b, 2, m.Type)
	b = appendVarintField(b, 3, uint64(m.Major))
	b = appendVarintField(b, 4, uint64(m.Minor))
	b = appendVarintField(b, 5, uint64(m.Patch))
	b = appendStringField(b, 6, m.Version)
	for _, l := range m.Languages {
		b = appendStringField(b, 7, l)
	}
	for _, t := range m.Triplets {
		b = appendStringField(b, 8, t)
	}
	return b
}
func (m *AddCompiler) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		switch n {
		case 1:
			m.Name = stringFrom(v)
		case 2:
			m.Type = stringFrom(v)
		case 3:
			m.Major = uint32(varintFrom(v))
		case 4:
			m.Minor = uint32(varintFrom(v))
		case 5:
			m.Patch = uint32(varintFrom(v))
		case 6:
			m.Version = stringFrom(v)
		case 7:
			m.Languages = append(m.Languages, stringFrom(v))
		case 8:
			m.Triplets = append(m.Triplets, stringFrom(v))
		}
		return nil
	})
}

// --- dependency scanning (spec.md §4.5 worker loop, scan branch) ---

type DependencyScan struct {
	Path      string
	Arch      string
	Toolchain oid.ID
	Flags     []string
}

func (m *DependencyScan) WireType() Type { return TypeDependencyScan }
func (m *DependencyScan) Marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, m.Path)
	b = appendStringField(b, 2, m.Arch)
	b = appendOidField(b, 3, m.Toolchain)
	for _, f := range m.Flags {
		b = appendStringField(b, 4, f)
	}
	return b
}
func (m *DependencyScan) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		switch n {
		case 1:
			m.Path = stringFrom(v)
		case 2:
			m.Arch = stringFrom(v)
		case 3:
			m.Toolchain = oidFrom(v)
		case 4:
			m.Flags = append(m.Flags, stringFrom(v))
		}
		return nil
	})
}

type DepEntry struct {
	FileName string
	Hash     oid.ID
}

func (e DepEntry) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, e.FileName)
	b = appendOidField(b, 2, e.Hash)
	return b
}

func unmarshalDepEntry(v []byte) (DepEntry, error) {
	var e DepEntry
	err := consumeFields(v, func(n protowire.Number, _ protowire.Type, fv []byte) error {
		switch n {
		case 1:
			e.FileName = stringFrom(fv)
		case 2:
			e.Hash = oidFrom(fv)
		}
		return nil
	})
	return e, err
}

type DependencyResults struct {
	OK       bool
	Stdout   string
	Deps     []DepEntry
	LibFlags []string
}

func (m *DependencyResults) WireType() Type { return TypeDependencyResults }
func (m *DependencyResults) Marshal() []byte {
	var b []byte
	b = appendBoolField(b, 1, m.OK)
	b = appendStringField(b, 2, m.Stdout)
	for _, d := range m.Deps {
		b = appendMessageField(b, 3, d.marshal())
	}
	for _, f := range m.LibFlags {
		b = appendStringField(b, 4, f)
	}
	return b
}
func (m *DependencyResults) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		switch n {
		case 1:
			m.OK = varintFrom(v) != 0
		case 2:
			m.Stdout = stringFrom(v)
		case 3:
			d, err := unmarshalDepEntry(v)
			if err != nil {
				return err
			}
			m.Deps = append(m.Deps, d)
		case 4:
			m.LibFlags = append(m.LibFlags, stringFrom(v))
		}
		return nil
	})
}

// --- content transfer, usable from either scan or build state (spec.md §4.5) ---

type ContentRequestByHash struct {
	Oids []oid.ID
}

func (m *ContentRequestByHash) WireType() Type { return TypeContentRequestByHash }
func (m *ContentRequestByHash) Marshal() []byte {
	var b []byte
	for _, o := range m.Oids {
		b = appendOidField(b, 1, o)
	}
	return b
}
func (m *ContentRequestByHash) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		if n == 1 {
			m.Oids = append(m.Oids, oidFrom(v))
		}
		return nil
	})
}

// ContentStatus mirrors the cache.State values relevant to a content reply.
type ContentStatus uint32

const (
	ContentMissing ContentStatus = iota
	ContentReady
	ContentFailed
)

type ContentEntry struct {
	Hash   oid.ID
	Status ContentStatus
	Data   []byte
}

func (e ContentEntry) marshal() []byte {
	var b []byte
	b = appendOidField(b, 1, e.Hash)
	b = appendVarintField(b, 2, uint64(e.Status))
	b = appendBytesField(b, 3, e.Data)
	return b
}

func unmarshalContentEntry(v []byte) (ContentEntry, error) {
	var e ContentEntry
	err := consumeFields(v, func(n protowire.Number, _ protowire.Type, fv []byte) error {
		switch n {
		case 1:
			e.Hash = oidFrom(fv)
		case 2:
			e.Status = ContentStatus(varintFrom(fv))
		case 3:
			e.Data = append([]byte(nil), fv...)
		}
		return nil
	})
	return e, err
}

type ContentResponse struct {
	Entries []ContentEntry
}

func (m *ContentResponse) WireType() Type { return TypeContentResponse }
func (m *ContentResponse) Marshal() []byte {
	var b []byte
	for _, e := range m.Entries {
		b = appendMessageField(b, 1, e.marshal())
	}
	return b
}
func (m *ContentResponse) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		if n == 1 {
			e, err := unmarshalContentEntry(v)
			if err != nil {
				return err
			}
			m.Entries = append(m.Entries, e)
		}
		return nil
	})
}

type BulkHashRequest struct {
	FileNames []string
}

func (m *BulkHashRequest) WireType() Type { return TypeBulkHashRequest }
func (m *BulkHashRequest) Marshal() []byte {
	var b []byte
	for _, f := range m.FileNames {
		b = appendStringField(b, 1, f)
	}
	return b
}
func (m *BulkHashRequest) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		if n == 1 {
			m.FileNames = append(m.FileNames, stringFrom(v))
		}
		return nil
	})
}

type HashFileEntry struct {
	FileName string
	Found    bool
	Hash     oid.ID
}

func (e HashFileEntry) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, e.FileName)
	b = appendBoolField(b, 2, e.Found)
	b = appendOidField(b, 3, e.Hash)
	return b
}

func unmarshalHashFileEntry(v []byte) (HashFileEntry, error) {
	var e HashFileEntry
	err := consumeFields(v, func(n protowire.Number, _ protowire.Type, fv []byte) error {
		switch n {
		case 1:
			e.FileName = stringFrom(fv)
		case 2:
			e.Found = varintFrom(fv) != 0
		case 3:
			e.Hash = oidFrom(fv)
		}
		return nil
	})
	return e, err
}

type BulkHashResponse struct {
	Files []HashFileEntry
}

func (m *BulkHashResponse) WireType() Type { return TypeBulkHashResponse }
func (m *BulkHashResponse) Marshal() []byte {
	var b []byte
	for _, f := range m.Files {
		b = appendMessageField(b, 1, f.marshal())
	}
	return b
}
func (m *BulkHashResponse) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		if n == 1 {
			e, err := unmarshalHashFileEntry(v)
			if err != nil {
				return err
			}
			m.Files = append(m.Files, e)
		}
		return nil
	})
}

// --- developer loop (spec.md §4.5) ---

type FileChangeEntry struct {
	FileName string
	Hash     oid.ID
	Data     []byte // absent (nil) when the client is only announcing the hash
}

func (e FileChangeEntry) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, e.FileName)
	b = appendOidField(b, 2, e.Hash)
	b = appendBytesField(b, 3, e.Data)
	return b
}

func unmarshalFileChangeEntry(v []byte) (FileChangeEntry, error) {
	var e FileChangeEntry
	err := consumeFields(v, func(n protowire.Number, _ protowire.Type, fv []byte) error {
		switch n {
		case 1:
			e.FileName = stringFrom(fv)
		case 2:
			e.Hash = oidFrom(fv)
		case 3:
			e.Data = append([]byte(nil), fv...)
		}
		return nil
	})
	return e, err
}

type BulkFileChanged struct {
	Entries []FileChangeEntry
}

func (m *BulkFileChanged) WireType() Type { return TypeBulkFileChanged }
func (m *BulkFileChanged) Marshal() []byte {
	var b []byte
	for _, e := range m.Entries {
		b = appendMessageField(b, 1, e.marshal())
	}
	return b
}
func (m *BulkFileChanged) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		if n == 1 {
			e, err := unmarshalFileChangeEntry(v)
			if err != nil {
				return err
			}
			m.Entries = append(m.Entries, e)
		}
		return nil
	})
}

type FileAckEntry struct {
	FileName    string
	HaveContent bool
}

func (e FileAckEntry) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, e.FileName)
	b = appendBoolField(b, 2, e.HaveContent)
	return b
}

func unmarshalFileAckEntry(v []byte) (FileAckEntry, error) {
	var e FileAckEntry
	err := consumeFields(v, func(n protowire.Number, _ protowire.Type, fv []byte) error {
		switch n {
		case 1:
			e.FileName = stringFrom(fv)
		case 2:
			e.HaveContent = varintFrom(fv) != 0
		}
		return nil
	})
	return e, err
}

type BulkFileAck struct {
	Entries []FileAckEntry
}

func (m *BulkFileAck) WireType() Type { return TypeBulkFileAck }
func (m *BulkFileAck) Marshal() []byte {
	var b []byte
	for _, e := range m.Entries {
		b = appendMessageField(b, 1, e.marshal())
	}
	return b
}
func (m *BulkFileAck) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		if n == 1 {
			e, err := unmarshalFileAckEntry(v)
			if err != nil {
				return err
			}
			m.Entries = append(m.Entries, e)
		}
		return nil
	})
}

type FileRemoved struct {
	FileName string
}

func (m *FileRemoved) WireType() Type { return TypeFileRemoved }
func (m *FileRemoved) Marshal() []byte {
	return appendStringField(nil, 1, m.FileName)
}
func (m *FileRemoved) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		if n == 1 {
			m.FileName = stringFrom(v)
		}
		return nil
	})
}

// --- build dispatch (spec.md §4.5 worker loop, build branch) ---

type NodeBuildRequest struct {
	FileName  string
	Toolchain oid.ID
	Arch      string
	Flags     []string
	Sources   []oid.ID
}

func (m *NodeBuildRequest) WireType() Type { return TypeNodeBuildRequest }
func (m *NodeBuildRequest) Marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, m.FileName)
	b = appendOidField(b, 2, m.Toolchain)
	b = appendStringField(b, 3, m.Arch)
	for _, f := range m.Flags {
		b = appendStringField(b, 4, f)
	}
	for _, s := range m.Sources {
		b = appendOidField(b, 5, s)
	}
	return b
}
func (m *NodeBuildRequest) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		switch n {
		case 1:
			m.FileName = stringFrom(v)
		case 2:
			m.Toolchain = oidFrom(v)
		case 3:
			m.Arch = stringFrom(v)
		case 4:
			m.Flags = append(m.Flags, stringFrom(v))
		case 5:
			m.Sources = append(m.Sources, oidFrom(v))
		}
		return nil
	})
}

type OutputEntry struct {
	FileName string
	Hash     oid.ID
	Data     []byte
}

func (e OutputEntry) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, e.FileName)
	b = appendOidField(b, 2, e.Hash)
	b = appendBytesField(b, 3, e.Data)
	return b
}

func unmarshalOutputEntry(v []byte) (OutputEntry, error) {
	var e OutputEntry
	err := consumeFields(v, func(n protowire.Number, _ protowire.Type, fv []byte) error {
		switch n {
		case 1:
			e.FileName = stringFrom(fv)
		case 2:
			e.Hash = oidFrom(fv)
		case 3:
			e.Data = append([]byte(nil), fv...)
		}
		return nil
	})
	return e, err
}

type NodeBuildResults struct {
	Success bool
	Stdout  string
	// FileName is the output node's own basename, used to tell it apart
	// from sibling outputs in the Outputs list (spec.md §4.5).
	FileName string
	Outputs  []OutputEntry
}

func (m *NodeBuildResults) WireType() Type { return TypeNodeBuildResults }
func (m *NodeBuildResults) Marshal() []byte {
	var b []byte
	b = appendBoolField(b, 1, m.Success)
	b = appendStringField(b, 2, m.Stdout)
	b = appendStringField(b, 3, m.FileName)
	for _, o := range m.Outputs {
		b = appendMessageField(b, 4, o.marshal())
	}
	return b
}
func (m *NodeBuildResults) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		switch n {
		case 1:
			m.Success = varintFrom(v) != 0
		case 2:
			m.Stdout = stringFrom(v)
		case 3:
			m.FileName = stringFrom(v)
		case 4:
			o, err := unmarshalOutputEntry(v)
			if err != nil {
				return err
			}
			m.Outputs = append(m.Outputs, o)
		}
		return nil
	})
}

// --- developer-initiated build (spec.md §4.6) ---

type BuildRequest struct {
	Target  string
	Arch    string
	Config  string
	Rebuild bool
}

func (m *BuildRequest) WireType() Type { return TypeBuildRequest }
func (m *BuildRequest) Marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, m.Target)
	b = appendStringField(b, 2, m.Arch)
	b = appendStringField(b, 3, m.Config)
	b = appendBoolField(b, 4, m.Rebuild)
	return b
}
func (m *BuildRequest) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		switch n {
		case 1:
			m.Target = stringFrom(v)
		case 2:
			m.Arch = stringFrom(v)
		case 3:
			m.Config = stringFrom(v)
		case 4:
			m.Rebuild = varintFrom(v) != 0
		}
		return nil
	})
}

type ResultEntry struct {
	FileName string
	Hash     oid.ID
	Log      string
	OK       bool
	Sync     bool
}

func (e ResultEntry) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, e.FileName)
	b = appendOidField(b, 2, e.Hash)
	b = appendStringField(b, 3, e.Log)
	b = appendBoolField(b, 4, e.OK)
	b = appendBoolField(b, 5, e.Sync)
	return b
}

func unmarshalResultEntry(v []byte) (ResultEntry, error) {
	var e ResultEntry
	err := consumeFields(v, func(n protowire.Number, _ protowire.Type, fv []byte) error {
		switch n {
		case 1:
			e.FileName = stringFrom(fv)
		case 2:
			e.Hash = oidFrom(fv)
		case 3:
			e.Log = stringFrom(fv)
		case 4:
			e.OK = varintFrom(fv) != 0
		case 5:
			e.Sync = varintFrom(fv) != 0
		}
		return nil
	})
	return e, err
}

type BuildResults struct {
	Status  bool
	Results []ResultEntry
}

func (m *BuildResults) WireType() Type { return TypeBuildResults }
func (m *BuildResults) Marshal() []byte {
	var b []byte
	b = appendBoolField(b, 1, m.Status)
	for _, r := range m.Results {
		b = appendMessageField(b, 2, r.marshal())
	}
	return b
}
func (m *BuildResults) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		switch n {
		case 1:
			m.Status = varintFrom(v) != 0
		case 2:
			r, err := unmarshalResultEntry(v)
			if err != nil {
				return err
			}
			m.Results = append(m.Results, r)
		}
		return nil
	})
}

// --- info queries (spec.md §4.5 developer loop) ---

type InfoKind uint32

const (
	InfoArch InfoKind = iota
	InfoClient
	InfoConfig
	InfoNode
	InfoTarget
	InfoToolchain
)

type InfoRequest struct {
	Kind  InfoKind
	Query string
}

func (m *InfoRequest) WireType() Type { return TypeInfoRequest }
func (m *InfoRequest) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.Kind))
	b = appendStringField(b, 2, m.Query)
	return b
}
func (m *InfoRequest) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		switch n {
		case 1:
			m.Kind = InfoKind(varintFrom(v))
		case 2:
			m.Query = stringFrom(v)
		}
		return nil
	})
}

type stringListMsg struct {
	typ    Type
	fields []string
}

func (m *stringListMsg) WireType() Type { return m.typ }
func (m *stringListMsg) Marshal() []byte {
	var b []byte
	for _, s := range m.fields {
		b = appendStringField(b, 1, s)
	}
	return b
}
func (m *stringListMsg) unmarshalInto(body []byte, out *[]string) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		if n == 1 {
			*out = append(*out, stringFrom(v))
		}
		return nil
	})
}

type ArchList struct{ Arches []string }

func (m *ArchList) WireType() Type   { return TypeArchList }
func (m *ArchList) Marshal() []byte  { return (&stringListMsg{typ: TypeArchList, fields: m.Arches}).Marshal() }
func (m *ArchList) Unmarshal(b []byte) error {
	return (&stringListMsg{}).unmarshalInto(b, &m.Arches)
}

type ClientList struct{ Clients []string }

func (m *ClientList) WireType() Type { return TypeClientList }
func (m *ClientList) Marshal() []byte {
	return (&stringListMsg{typ: TypeClientList, fields: m.Clients}).Marshal()
}
func (m *ClientList) Unmarshal(b []byte) error {
	return (&stringListMsg{}).unmarshalInto(b, &m.Clients)
}

type ConfigList struct{ Configs []string }

func (m *ConfigList) WireType() Type { return TypeConfigList }
func (m *ConfigList) Marshal() []byte {
	return (&stringListMsg{typ: TypeConfigList, fields: m.Configs}).Marshal()
}
func (m *ConfigList) Unmarshal(b []byte) error {
	return (&stringListMsg{}).unmarshalInto(b, &m.Configs)
}

type NodeList struct{ Nodes []string }

func (m *NodeList) WireType() Type   { return TypeNodeList }
func (m *NodeList) Marshal() []byte  { return (&stringListMsg{typ: TypeNodeList, fields: m.Nodes}).Marshal() }
func (m *NodeList) Unmarshal(b []byte) error {
	return (&stringListMsg{}).unmarshalInto(b, &m.Nodes)
}

type TargetList struct{ Targets []string }

func (m *TargetList) WireType() Type { return TypeTargetList }
func (m *TargetList) Marshal() []byte {
	return (&stringListMsg{typ: TypeTargetList, fields: m.Targets}).Marshal()
}
func (m *TargetList) Unmarshal(b []byte) error {
	return (&stringListMsg{}).unmarshalInto(b, &m.Targets)
}

type ToolchainEntry struct {
	Hash      oid.ID
	Type      string
	Version   string
	Languages []string
	Triplets  []string
}

func (e ToolchainEntry) marshal() []byte {
	var b []byte
	b = appendOidField(b, 1, e.Hash)
	b = appendStringField(b, 2, e.Type)
	b = appendStringField(b, 3, e.Version)
	for _, l := range e.Languages {
		b = appendStringField(b, 4, l)
	}
	for _, t := range e.Triplets {
		b = appendStringField(b, 5, t)
	}
	return b
}

func unmarshalToolchainEntry(v []byte) (ToolchainEntry, error) {
	var e ToolchainEntry
	err := consumeFields(v, func(n protowire.Number, _ protowire.Type, fv []byte) error {
		switch n {
		case 1:
			e.Hash = oidFrom(fv)
		case 2:
			e.Type = stringFrom(fv)
		case 3:
			e.Version = stringFrom(fv)
		case 4:
			e.Languages = append(e.Languages, stringFrom(fv))
		case 5:
			e.Triplets = append(e.Triplets, stringFrom(fv))
		}
		return nil
	})
	return e, err
}

type ToolchainList struct {
	Entries []ToolchainEntry
}

func (m *ToolchainList) WireType() Type { return TypeToolchainList }
func (m *ToolchainList) Marshal() []byte {
	var b []byte
	for _, e := range m.Entries {
		b = appendMessageField(b, 1, e.marshal())
	}
	return b
}
func (m *ToolchainList) Unmarshal(body []byte) error {
	return consumeFields(body, func(n protowire.Number, _ protowire.Type, v []byte) error {
		if n == 1 {
			e, err := unmarshalToolchainEntry(v)
			if err != nil {
				return err
			}
			m.Entries = append(m.Entries, e)
		}
		return nil
	})
}
