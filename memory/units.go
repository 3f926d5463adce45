package memory

// Units names the scale a [Memory] size is expressed in.
type Units string

const (
	Bytes     Units = "B"
	Kilobytes Units = "KB"
	Megabytes Units = "MB"
	Gigabytes Units = "GB"
	Terabytes Units = "TB"
	Kibibytes Units = "KiB"
	Mebibytes Units = "MiB"
	Gibibytes Units = "GiB"
	Tebibytes Units = "TiB"
)

var scales = map[Units]int64{
	Bytes:     1,
	Kilobytes: 1e3,
	Megabytes: 1e6,
	Gigabytes: 1e9,
	Terabytes: 1e12,
	Kibibytes: 1 << 10,
	Mebibytes: 1 << 20,
	Gibibytes: 1 << 30,
	Tebibytes: 1 << 40,
}

// Scale returns the number of bytes in one unit.
func (u Units) Scale() (int64, bool) {
	scale, ok := scales[u]
	return scale, ok
}

// Valid reports whether u is a known unit.
func (u Units) Valid() bool {
	_, ok := scales[u]
	return ok
}

// ToUnits converts bytes to u.
// Unknown units are treated as bytes.
func (u Units) ToUnits(bytes int64) float64 {
	scale, ok := scales[u]
	if !ok {
		scale = 1
	}
	return float64(bytes) / float64(scale)
}
