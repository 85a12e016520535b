package capability

import "github.com/GeoRetina/arion/internal/backend"

// Builtin returns the manifests for the integrations that ship with
// Arion. Native entries are served by compiled-in connectors; MCP
// entries are backed by the bundled MCP servers and list the raw tool
// name the capability maps to on the serving server.
func Builtin() []Registration {
	native := []backend.Kind{backend.KindNative}
	nativeOrMCP := []backend.Kind{backend.KindNative, backend.KindMCP}
	mcpOnly := []backend.Kind{backend.KindMCP}

	return []Registration{
		// PostgreSQL/PostGIS
		{IntegrationID: "postgresql-postgis", Capability: "sql.query", Backends: nativeOrMCP, MCPTool: "execute_select_query"},
		{IntegrationID: "postgresql-postgis", Capability: "sql.spatial", Backends: nativeOrMCP, MCPTool: "execute_spatial_query"},
		{IntegrationID: "postgresql-postgis", Capability: "sql.schema", Backends: nativeOrMCP, MCPTool: "describe_schema"},
		{IntegrationID: "postgresql-postgis", Capability: "sql.mutate", Backends: nativeOrMCP, Sensitivity: SensitivitySensitive, MCPTool: "insert_record"},

		// STAC catalog search
		{IntegrationID: "stac-catalog", Capability: "catalog.search", Backends: native},
		{IntegrationID: "stac-catalog", Capability: "catalog.item", Backends: native},

		// Cloud-optimized GeoTIFF access
		{IntegrationID: "cog-raster", Capability: "raster.metadata", Backends: nativeOrMCP, MCPTool: "get_raster_metadata"},
		{IntegrationID: "cog-raster", Capability: "raster.statistics", Backends: nativeOrMCP, MCPTool: "compute_raster_statistics"},
		{IntegrationID: "cog-raster", Capability: "raster.index", Backends: mcpOnly, MCPTool: "compute_spectral_index"},

		// OGC Web Map Service
		{IntegrationID: "wms", Capability: "map.capabilities", Backends: native},
		{IntegrationID: "wms", Capability: "map.render", Backends: native},

		// S3-compatible object storage
		{IntegrationID: "s3-storage", Capability: "storage.list", Backends: native},
		{IntegrationID: "s3-storage", Capability: "storage.get", Backends: native},
		{IntegrationID: "s3-storage", Capability: "storage.put", Backends: native, Sensitivity: SensitivitySensitive},

		// Google Earth Engine
		{IntegrationID: "earth-engine", Capability: "ee.execute", Backends: []backend.Kind{backend.KindNative, backend.KindPlugin}, Sensitivity: SensitivitySensitive},

		// Local file system (bundled MCP server)
		{IntegrationID: "file-system", Capability: "fs.list", Backends: mcpOnly, MCPTool: "list_dir"},
		{IntegrationID: "file-system", Capability: "fs.find", Backends: mcpOnly, MCPTool: "find_files"},
		{IntegrationID: "file-system", Capability: "fs.read", Backends: mcpOnly, MCPTool: "read_file"},
		{IntegrationID: "file-system", Capability: "fs.write", Backends: mcpOnly, Sensitivity: SensitivitySensitive, MCPTool: "write_file"},

		// Web scraping (bundled MCP server)
		{IntegrationID: "web-scraper", Capability: "web.fetch", Backends: mcpOnly, MCPTool: "scrape_url"},

		// Vector analysis (bundled MCP server)
		{IntegrationID: "vector-analysis", Capability: "vector.analyze", Backends: mcpOnly, MCPTool: "analyze_vector_file"},
		{IntegrationID: "vector-analysis", Capability: "vector.geometry", Backends: mcpOnly, MCPTool: "analyze_geometry"},

		// Tabular data processing (bundled MCP server)
		{IntegrationID: "data-processing", Capability: "data.process", Backends: mcpOnly, MCPTool: "process_data"},
	}
}
