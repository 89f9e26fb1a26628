package render

// Theme holds colors for graph rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	// Call edge colors by callee category.
	EdgeDecoded    string // callee with a decoded listing
	EdgeOpaque     string // built-in or external callee
	EdgeConst      string // method on a constant receiver
	EdgeUnresolved string // <unknown> placeholder

	// Branch edge colors.
	EdgeTaken       string
	EdgeFallthrough string

	// Node accents.
	EntryBorder  string // entry points, entry blocks
	OpaqueFill   string // terminal blocks, unowned groups
	ExternalText string // opaque callees, external libraries

	// Cluster styling.
	ClusterBorder string // subgraph cluster border
	ClusterLabel  string // subgraph cluster label text
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeDecoded:    "#424242", // dark gray
	EdgeOpaque:     "#00695C", // teal
	EdgeConst:      "#E65100", // deep orange
	EdgeUnresolved: "#FC3D21", // NASA red

	EdgeTaken:       "#0B3D91", // NASA blue
	EdgeFallthrough: "#FC3D21",

	EntryBorder:  "#0B3D91",
	OpaqueFill:   "#ECEFF1", // blue-gray 50
	ExternalText: "#9E9E9E",

	ClusterBorder: "#BDBDBD",
	ClusterLabel:  "#757575",
}
