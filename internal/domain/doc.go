// Package domain models the Johns Hopkins CSSE COVID-19 time-series data.
//
// # Data Source
//
// The CSSE repository publishes one wide CSV per metric at
// https://github.com/CSSEGISandData/COVID-19 under
// csse_covid_19_data/csse_covid_19_time_series/:
//
//	time_series_covid19_confirmed_global.csv
//	time_series_covid19_deaths_global.csv
//	time_series_covid19_recovered_global.csv
//
// plus the country lookup table csse_covid_19_data/UID_ISO_FIPS_LookUp_Table.csv.
//
// # Wide Layout
//
// Every time-series CSV starts with four metadata columns followed by one
// column per observation date:
//
//	Province/State,Country/Region,Lat,Long,1/22/20,1/23/20,...
//	,Chad,15.454166,18.732207,0,0,...
//
// Date headers are M/D/YY with one or two digit month and day and a two digit
// year. A header is a date column only if it has that shape AND parses as a
// real calendar date; "13/40/20" has the shape but is a [FormatError].
//
// # Normalized Record
//
// [Reshape] turns one wide row into a [Record]: metadata columns are kept as
// lower-cased fields ("country/region", "province/state"), Lat/Long become
// floats, and date columns collapse into an ordered time series. In the
// joined layout each sample carries confirmed, deaths and recovered counts.
//
// # Joining
//
// Rows of the three datasets are matched on the exact pair
// (Country/Region, Province/State). Keys are not unique in the upstream data;
// [NewIndex] keeps the first row seen for a key. The lookup table is matched
// on Country_Region alone and only contributes the iso2 code.
//
// Deaths and recovered are looked up in a nested fashion: a region with no
// deaths row is treated as having neither deaths nor recovered data, even if a
// recovered row exists. See [Joiner.Match].
//
// # Missing Data
//
// A missing counterpart row or an unreadable counterpart value counts as 0.
// An unreadable value in the primary dataset is a [FormatError]. The
// asymmetry is deliberate and matches the published datasets, where the
// recovered series was discontinued but confirmed is always complete.
package domain
