package pe

import "encoding/binary"

const (
	DosSignature = 0x5A4D     // MZ
	NtSignature  = 0x00004550 // PE\0\0

	MachineAMD64        = 0x8664
	OptionalHeaderMagic = 0x20b

	FileDLL = 0x2000

	DllProcessDetach = 0
	DllProcessAttach = 1

	NumberOfDirectories = 16
)

// data directory indices
const (
	DirectoryExport = iota
	DirectoryImport
	DirectoryResource
	DirectoryException
	DirectorySecurity
	DirectoryBaseReloc
	DirectoryDebug
	DirectoryArchitecture
	DirectoryGlobalPtr
	DirectoryTLS
	DirectoryLoadConfig
	DirectoryBoundImport
	DirectoryIAT
	DirectoryDelayImport
	DirectoryCOMDescriptor
)

// base relocation types
const (
	RelBasedAbsolute = 0
	RelBasedHighLow  = 3
	RelBasedDir64    = 10
)

const (
	ordinalFlag64 = 1 << 63
	ordinalMask   = 0xFFFF
)

type DosHeader struct {
	Magic    uint16
	Cblp     uint16
	Cp       uint16
	Crlc     uint16
	Cparhdr  uint16
	Minalloc uint16
	Maxalloc uint16
	Ss       uint16
	Sp       uint16
	Csum     uint16
	Ip       uint16
	Cs       uint16
	Lfarlc   uint16
	Ovno     uint16
	Res      [4]uint16
	Oemid    uint16
	Oeminfo  uint16
	Res2     [10]uint16
	Lfanew   int32
}

type FileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

type OptionalHeader64 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	ImageBase                   uint64
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint64
	SizeOfStackCommit           uint64
	SizeOfHeapReserve           uint64
	SizeOfHeapCommit            uint64
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
	DataDirectory               [NumberOfDirectories]DataDirectory
}

type SectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

// SectionName returns the section name without NUL padding.
func (s *SectionHeader) SectionName() string {
	n := 0
	for n < len(s.Name) && s.Name[n] != 0 {
		n++
	}
	return string(s.Name[:n])
}

type ImportDescriptor struct {
	OriginalFirstThunk uint32
	TimeDateStamp      uint32
	ForwarderChain     uint32
	Name               uint32
	FirstThunk         uint32
}

func (d *ImportDescriptor) isZero() bool {
	return *d == ImportDescriptor{}
}

// 16: Base
// 20: NumberOfFunctions
// 24: NumberOfNames
// 28: AddressOfFunctions
// 32: AddressOfNames
// 36: AddressOfNameOrdinals
type ExportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

type BaseRelocation struct {
	VirtualAddress uint32
	SizeOfBlock    uint32
}

var (
	sizeofDosHeader        = binary.Size(DosHeader{})
	sizeofFileHeader       = binary.Size(FileHeader{})
	sizeofOptionalHeader64 = binary.Size(OptionalHeader64{})
	sizeofSectionHeader    = binary.Size(SectionHeader{})
	sizeofImportDescriptor = binary.Size(ImportDescriptor{})
	sizeofExportDirectory  = binary.Size(ExportDirectory{})
	sizeofBaseRelocation   = binary.Size(BaseRelocation{})
)

func decode(b []byte, v any) bool {
	_, err := binary.Decode(b, binary.LittleEndian, v)
	return err == nil
}

func encode(v any) []byte {
	b, err := binary.Append(nil, binary.LittleEndian, v)
	if err != nil {
		return nil
	}
	return b
}
